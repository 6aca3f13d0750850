package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookit/booking"
	"github.com/warp/bookit/booking/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	experienceID = "6b0c7a4e-2f7d-4c55-9b8a-1f3c0c2d9e01"
	slotID       = "0f9b1c2d-3e4f-4a5b-8c6d-7e8f9a0b1c2d"
	otherSlotID  = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	missingID    = "99999999-9999-4999-8999-999999999999"
)

var (
	now      = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	slotDate = time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stepClock advances by one minute on every call so creation order is
// observable in timestamps.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

func expires(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

// seed loads one experience priced at price with a slot of the given size,
// plus a second slot of 10, and the standard promo codes.
func seed(t *testing.T, s booking.Store, price string, spots int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveExperience(ctx, booking.Experience{
		ID:    experienceID,
		Title: "Sunset Kayak Tour",
		Price: dec(price),
		Slots: []booking.Slot{
			{ID: slotID, Date: slotDate, StartTime: "17:00", EndTime: "19:00", TotalSpots: spots},
			{ID: otherSlotID, Date: slotDate, StartTime: "09:00", EndTime: "11:00", TotalSpots: 10},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	promos := []booking.PromoCode{
		{Code: "SAVE10", DiscountType: booking.DiscountPercentage, DiscountValue: dec("10"), IsActive: true, ExpiresAt: expires(24 * time.Hour)},
		{Code: "FLAT50", DiscountType: booking.DiscountFixed, DiscountValue: dec("50"), IsActive: true},
		{Code: "EXPIRED", DiscountType: booking.DiscountPercentage, DiscountValue: dec("50"), IsActive: true, ExpiresAt: expires(-time.Hour)},
		{Code: "INACTIVE", DiscountType: booking.DiscountFixed, DiscountValue: dec("20"), IsActive: false},
	}
	for _, p := range promos {
		require.NoError(t, s.SavePromo(ctx, p))
	}
}

func bookedSpots(t *testing.T, s booking.Store, slot string) int {
	t.Helper()
	exp, err := s.GetExperience(context.Background(), experienceID)
	require.NoError(t, err)
	sl, ok := exp.Slot(slot)
	require.True(t, ok)
	return sl.BookedSpots
}

func request(email string) booking.CreateRequest {
	return booking.CreateRequest{
		ExperienceID: experienceID,
		SlotID:       slotID,
		UserName:     "Ada Lovelace",
		UserEmail:    email,
	}
}

// storeKinds runs a test against the compensating and the transactional
// memory store.
var storeKinds = map[string]func() booking.Store{
	"compensating": func() booking.Store { return store.NewMemory() },
	"transactional": func() booking.Store { return store.NewTxMemory() },
}
