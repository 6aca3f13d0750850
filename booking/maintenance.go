package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// DuplicateGroup is a set of bookings for the same customer, experience and
// slot. Keep is the earliest confirmed booking, or the earliest record when
// all are cancelled; Remove are the rest in creation order.
type DuplicateGroup struct {
	Keep   Booking
	Remove []Booking
}

// FindDuplicates groups bookings by (email, experience, slot) and returns
// the groups with more than one record.
func FindDuplicates(bookings []Booking) []DuplicateGroup {
	sorted := make([]Booking, len(bookings))
	copy(sorted, bookings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	type key struct{ email, experience, slot string }
	index := make(map[key]int)
	var members [][]Booking
	for _, b := range sorted {
		k := key{NormalizeEmail(b.UserEmail), b.ExperienceID, b.SlotID}
		i, seen := index[k]
		if !seen {
			index[k] = len(members)
			members = append(members, nil)
			i = len(members) - 1
		}
		members[i] = append(members[i], b)
	}

	var out []DuplicateGroup
	for _, m := range members {
		if len(m) < 2 {
			continue
		}
		keep := 0
		for i, b := range m {
			if b.IsLive() {
				keep = i
				break
			}
		}
		g := DuplicateGroup{Keep: m[keep]}
		for i, b := range m {
			if i != keep {
				g.Remove = append(g.Remove, b)
			}
		}
		out = append(out, g)
	}
	return out
}

// DedupeReport summarizes a Deduplicate run.
type DedupeReport struct {
	Groups        int
	Removed       int
	SpotsReleased int
}

// Deduplicate removes duplicate bookings, keeping one per group (see
// DuplicateGroup).
// A removed booking that is still confirmed gives its spot back to the slot
// in the same unit of work as the delete. With dryRun nothing is written.
func Deduplicate(ctx context.Context, store Store, logger *slog.Logger, dryRun bool) (DedupeReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	all, err := store.ListBookings(ctx)
	if err != nil {
		return DedupeReport{}, fmt.Errorf("list bookings: %w", err)
	}

	groups := FindDuplicates(all)
	report := DedupeReport{Groups: len(groups)}
	for _, g := range groups {
		logger.InfoContext(ctx, "duplicate bookings found",
			"email", g.Keep.UserEmail,
			"experience_id", g.Keep.ExperienceID,
			"slot_id", g.Keep.SlotID,
			"keep", g.Keep.ID,
			"remove", len(g.Remove))

		for _, b := range g.Remove {
			if dryRun {
				report.Removed++
				if b.IsLive() {
					report.SpotsReleased++
				}
				continue
			}
			released, err := removeDuplicate(ctx, store, b)
			if err != nil {
				return report, fmt.Errorf("remove booking %s: %w", b.ID, err)
			}
			report.Removed++
			if released {
				report.SpotsReleased++
			}
		}
	}
	return report, nil
}

func removeDuplicate(ctx context.Context, store Store, b Booking) (bool, error) {
	released := false
	err := atomically(ctx, store, func(u *UnitOfWork) error {
		// Re-read inside the unit of work; the status may have changed since
		// the listing.
		cur, err := u.Store.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if cur.IsLive() {
			if err := u.Store.Release(ctx, cur.ExperienceID, cur.SlotID); err != nil {
				return err
			}
			u.OnRollback("reserve slot", func(ctx context.Context) error {
				return u.Store.TryReserve(ctx, cur.ExperienceID, cur.SlotID)
			})
			released = true
		}
		return u.Store.DeleteBooking(ctx, cur.ID)
	})
	if err != nil {
		return false, err
	}
	return released, nil
}
