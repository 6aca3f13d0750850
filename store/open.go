/*
open.go - Storage driver selection

PURPOSE:
  Builds the configured booking.Store for the commands. Every backend
  returned here also supports Reset (scenario loading) and Close.

DRIVERS:
  sqlite:    store/sqlite, single file, native transactions
  postgres:  store/postgres, pgx pool, goose migrations applied on open
  memory:    booking/store.TxMemory, lost on exit

SEE ALSO:
  - config/config.go: Driver and connection settings
  - cmd/server/main.go, cmd/dedupe/main.go: callers
*/
package store

import (
	"context"
	"fmt"

	"github.com/warp/bookit/booking"
	memstore "github.com/warp/bookit/booking/store"
	"github.com/warp/bookit/config"
	"github.com/warp/bookit/store/postgres"
	"github.com/warp/bookit/store/sqlite"
)

// Backend is a booking store the commands own for the life of the process.
type Backend interface {
	booking.TxStore
	Reset(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		return s, nil

	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return s, nil

	case config.DriverMemory:
		return memoryBackend{memstore.NewTxMemory()}, nil

	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

type memoryBackend struct {
	*memstore.TxMemory
}

func (memoryBackend) Close() error { return nil }
