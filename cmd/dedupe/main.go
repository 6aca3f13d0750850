/*
main.go - Duplicate booking cleanup

PURPOSE:
  Finds bookings that share (email, experience, slot), keeps the earliest
  confirmed booking of each group (the earliest record when all are
  cancelled) and deletes the rest. A deleted booking that was still confirmed
  returns its spot to the slot in the same unit of work, so slot counters
  stay equal to the number of live bookings.

COMMAND-LINE FLAGS:
  -dry-run       Report what would be removed without writing
  Storage flags (-driver, -db, -database-url) are shared with the server.

EXAMPLES:
  ./dedupe -dry-run
  ./dedupe -driver=postgres -database-url="postgres://bookit@localhost/bookit"

SEE ALSO:
  - booking/maintenance.go: Deduplicate
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/bookit/booking"
	"github.com/warp/bookit/config"
	"github.com/warp/bookit/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dedupe:", err)
		os.Exit(1)
	}
}

func run() error {
	var dryRun bool
	cfg, err := config.Load(os.Args[1:], func(fs *flag.FlagSet) {
		fs.BoolVar(&dryRun, "dry-run", false, "report duplicates without removing them")
	})
	if err != nil {
		return err
	}
	if cfg.Driver == config.DriverMemory {
		return errors.New("the memory driver has no persistent data to clean")
	}
	logger := cfg.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	report, err := booking.Deduplicate(ctx, backend, logger, dryRun)
	if err != nil {
		return err
	}

	verb := "removed"
	if dryRun {
		verb = "would remove"
	}
	logger.Info("dedupe finished",
		"dry_run", dryRun,
		"groups", report.Groups,
		"removed", report.Removed,
		"spots_released", report.SpotsReleased)
	fmt.Printf("%d duplicate group(s), %s %d booking(s), %d spot(s) released\n",
		report.Groups, verb, report.Removed, report.SpotsReleased)
	return nil
}
