package booking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookit/booking"
	"github.com/warp/bookit/booking/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newEngine(s booking.Store, opts ...booking.Option) *booking.Engine {
	base := []booking.Option{
		booking.WithClock(booking.FixedClock(now)),
		booking.WithLogger(quietLogger),
	}
	return booking.NewEngine(s, append(base, opts...)...)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateBooking_AppliesPromoAndReservesSpot(t *testing.T) {
	for name, newStore := range storeKinds {
		t.Run(name, func(t *testing.T) {
			// GIVEN: an experience priced 1000 with a 5-spot slot
			s := newStore()
			seed(t, s, "1000", 5)
			engine := newEngine(s)

			// WHEN: booking with a 10% code in mixed case
			req := request("  Ada@Example.COM ")
			req.PromoCode = "save10"
			b, err := engine.CreateBooking(context.Background(), req)

			// THEN: the booking is confirmed at 900 and one spot is taken
			require.NoError(t, err)
			assert.Equal(t, booking.StatusConfirmed, b.Status)
			assert.Equal(t, "ada@example.com", b.UserEmail)
			assert.Equal(t, "SAVE10", b.PromoCode)
			assert.True(t, dec("1000").Equal(b.OriginalPrice))
			assert.True(t, dec("100").Equal(b.Discount))
			assert.True(t, dec("900").Equal(b.FinalPrice))
			assert.Regexp(t, `^BK-[0-9A-Z]+-[0-9A-Z]{6}$`, b.ConfirmationNumber)
			assert.Equal(t, 1, bookedSpots(t, s, slotID))
			assert.Equal(t, 0, bookedSpots(t, s, otherSlotID))

			stored, err := engine.GetBooking(context.Background(), b.ID)
			require.NoError(t, err)
			assert.Equal(t, b.ConfirmationNumber, stored.ConfirmationNumber)
		})
	}
}

func TestCreateBooking_InvalidPromoDoesNotBlock(t *testing.T) {
	codes := map[string]string{
		"unknown":  "NOPE",
		"expired":  "EXPIRED",
		"inactive": "INACTIVE",
		"too long": strings.Repeat("X", booking.MaxPromoCodeLength+1),
	}
	for name, code := range codes {
		t.Run(name, func(t *testing.T) {
			s := store.NewTxMemory()
			seed(t, s, "80", 5)
			engine := newEngine(s)

			req := request("ada@example.com")
			req.PromoCode = code
			b, err := engine.CreateBooking(context.Background(), req)

			require.NoError(t, err)
			assert.Empty(t, b.PromoCode)
			assert.True(t, b.Discount.IsZero())
			assert.True(t, dec("80").Equal(b.FinalPrice))
			assert.Equal(t, 1, bookedSpots(t, s, slotID))
		})
	}
}

func TestCreateBooking_FixedDiscountClampedToPrice(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, "30", 5)
	engine := newEngine(s)

	req := request("ada@example.com")
	req.PromoCode = "FLAT50"
	b, err := engine.CreateBooking(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, dec("30").Equal(b.Discount))
	assert.True(t, b.FinalPrice.IsZero())
}

func TestCreateBooking_ValidationFailsBeforeAnyMutation(t *testing.T) {
	long := make([]byte, booking.MaxUserNameLength+1)
	for i := range long {
		long[i] = 'a'
	}

	cases := map[string]func(*booking.CreateRequest){
		"missing experience":   func(r *booking.CreateRequest) { r.ExperienceID = "" },
		"malformed experience": func(r *booking.CreateRequest) { r.ExperienceID = "not-an-id" },
		"malformed slot":       func(r *booking.CreateRequest) { r.SlotID = "123" },
		"blank name":           func(r *booking.CreateRequest) { r.UserName = "   " },
		"long name":            func(r *booking.CreateRequest) { r.UserName = string(long) },
		"bad email":            func(r *booking.CreateRequest) { r.UserEmail = "ada@example" },
		"missing email":        func(r *booking.CreateRequest) { r.UserEmail = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := store.NewMemory()
			seed(t, s, "100", 1)
			engine := newEngine(s)

			req := request("ada@example.com")
			mutate(&req)
			_, err := engine.CreateBooking(context.Background(), req)

			require.ErrorIs(t, err, booking.ErrInvalidInput)
			stage, ok := booking.StageOf(err)
			require.True(t, ok)
			assert.Equal(t, booking.StageValidating, stage)
			assert.Equal(t, 0, bookedSpots(t, s, slotID))
		})
	}
}

func TestCreateBooking_NotFound(t *testing.T) {
	s := store.NewTxMemory()
	seed(t, s, "100", 1)
	engine := newEngine(s)

	req := request("ada@example.com")
	req.ExperienceID = missingID
	_, err := engine.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, booking.ErrExperienceNotFound)

	req = request("ada@example.com")
	req.SlotID = missingID
	_, err = engine.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)
	assert.True(t, booking.IsNotFound(err))
}

func TestCreateBooking_SoldOut(t *testing.T) {
	for name, newStore := range storeKinds {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			seed(t, s, "100", 1)
			engine := newEngine(s)

			_, err := engine.CreateBooking(context.Background(), request("first@example.com"))
			require.NoError(t, err)

			_, err = engine.CreateBooking(context.Background(), request("second@example.com"))
			require.ErrorIs(t, err, booking.ErrSlotUnavailable)
			assert.True(t, booking.IsConflict(err))
			assert.False(t, booking.IsRetryable(err))

			stage, _ := booking.StageOf(err)
			assert.Equal(t, booking.StageReserving, stage)
			assert.Equal(t, 1, bookedSpots(t, s, slotID))
		})
	}
}

// The one hard concurrency rule: never more confirmed bookings than spots.
func TestCreateBooking_ConcurrentDemandNeverOversells(t *testing.T) {
	const spots, clients = 3, 40

	for name, newStore := range storeKinds {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			seed(t, s, "100", spots)
			engine := newEngine(s)

			var (
				wg          sync.WaitGroup
				mu          sync.Mutex
				succeeded   int
				unavailable int
				other       []error
			)
			start := make(chan struct{})
			for i := 0; i < clients; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := engine.CreateBooking(context.Background(), request(fmt.Sprintf("user%d@example.com", i)))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, booking.ErrSlotUnavailable):
						unavailable++
					default:
						other = append(other, err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Empty(t, other)
			assert.Equal(t, spots, succeeded)
			assert.Equal(t, clients-spots, unavailable)
			assert.Equal(t, spots, bookedSpots(t, s, slotID))

			all, err := s.ListBookings(context.Background())
			require.NoError(t, err)
			assert.Len(t, all, spots)
		})
	}
}

// failingStore is a non-transactional store with injectable faults.
type failingStore struct {
	*store.Memory
	appendErr  error
	releaseErr error
}

func (f *failingStore) AppendBooking(ctx context.Context, b booking.Booking) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Memory.AppendBooking(ctx, b)
}

func (f *failingStore) Release(ctx context.Context, experienceID, slotID string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	return f.Memory.Release(ctx, experienceID, slotID)
}

func TestCreateBooking_PersistFailureReleasesReservation(t *testing.T) {
	// GIVEN: a store whose ledger write fails
	fault := errors.New("disk full")
	s := &failingStore{Memory: store.NewMemory(), appendErr: fault}
	seed(t, s, "100", 1)
	engine := newEngine(s)

	// WHEN: booking
	_, err := engine.CreateBooking(context.Background(), request("ada@example.com"))

	// THEN: the fault surfaces as retryable and no phantom reservation remains
	require.ErrorIs(t, err, fault)
	assert.True(t, booking.IsRetryable(err))
	stage, _ := booking.StageOf(err)
	assert.Equal(t, booking.StagePersisting, stage)
	assert.Equal(t, 0, bookedSpots(t, s, slotID))
}

func TestCreateBooking_ConfirmationCollisionRollsBack(t *testing.T) {
	for name, newStore := range storeKinds {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			seed(t, s, "100", 5)
			constant := func(time.Time) string { return "BK-FIXED-000000" }
			engine := newEngine(s, booking.WithCodeGenerator(constant))

			_, err := engine.CreateBooking(context.Background(), request("first@example.com"))
			require.NoError(t, err)

			_, err = engine.CreateBooking(context.Background(), request("second@example.com"))
			require.ErrorIs(t, err, booking.ErrDuplicateConfirmation)
			assert.Equal(t, 1, bookedSpots(t, s, slotID))
		})
	}
}

func TestCreateBooking_RetriesConfirmationCollision(t *testing.T) {
	s := store.NewTxMemory()
	seed(t, s, "100", 5)

	var calls int
	codes := []string{"BK-A-000001", "BK-A-000001", "BK-A-000002"}
	gen := func(time.Time) string {
		c := codes[calls]
		calls++
		return c
	}
	engine := newEngine(s, booking.WithCodeGenerator(gen))

	first, err := engine.CreateBooking(context.Background(), request("first@example.com"))
	require.NoError(t, err)
	second, err := engine.CreateBooking(context.Background(), request("second@example.com"))
	require.NoError(t, err)

	assert.Equal(t, "BK-A-000001", first.ConfirmationNumber)
	assert.Equal(t, "BK-A-000002", second.ConfirmationNumber)
	assert.Equal(t, 2, bookedSpots(t, s, slotID))
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancelBooking_ReleasesSpotOnce(t *testing.T) {
	for name, newStore := range storeKinds {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			seed(t, s, "100", 1)
			engine := newEngine(s)
			ctx := context.Background()

			b, err := engine.CreateBooking(ctx, request("ada@example.com"))
			require.NoError(t, err)
			require.Equal(t, 1, bookedSpots(t, s, slotID))

			cancelled, err := engine.CancelBooking(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, booking.StatusCancelled, cancelled.Status)
			assert.True(t, b.FinalPrice.Equal(cancelled.FinalPrice))
			assert.Equal(t, 0, bookedSpots(t, s, slotID))

			// Second cancel is rejected and releases nothing.
			_, err = engine.CancelBooking(ctx, b.ID)
			require.ErrorIs(t, err, booking.ErrAlreadyCancelled)
			assert.Equal(t, 0, bookedSpots(t, s, slotID))

			// The freed spot is bookable again.
			_, err = engine.CreateBooking(ctx, request("grace@example.com"))
			require.NoError(t, err)
		})
	}
}

func TestCancelBooking_NotFound(t *testing.T) {
	s := store.NewMemory()
	engine := newEngine(s)

	_, err := engine.CancelBooking(context.Background(), missingID)
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestCancelBooking_ReleaseFailureRestoresBooking(t *testing.T) {
	s := &failingStore{Memory: store.NewMemory()}
	seed(t, s, "100", 2)
	engine := newEngine(s)
	ctx := context.Background()

	b, err := engine.CreateBooking(ctx, request("ada@example.com"))
	require.NoError(t, err)

	s.releaseErr = errors.New("connection reset")
	_, err = engine.CancelBooking(ctx, b.ID)
	require.Error(t, err)
	stage, _ := booking.StageOf(err)
	assert.Equal(t, booking.StageReleasing, stage)

	// Neither half took effect.
	stored, err := engine.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, stored.Status)
	assert.Equal(t, 1, bookedSpots(t, s, slotID))
}

func TestCancelBooking_ConcurrentCancelsReleaseOnce(t *testing.T) {
	for name, newStore := range storeKinds {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			seed(t, s, "100", 3)
			engine := newEngine(s)
			ctx := context.Background()

			b, err := engine.CreateBooking(ctx, request("ada@example.com"))
			require.NoError(t, err)
			_, err = engine.CreateBooking(ctx, request("grace@example.com"))
			require.NoError(t, err)

			var wg sync.WaitGroup
			var mu sync.Mutex
			wins, rejected := 0, 0
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := engine.CancelBooking(ctx, b.ID)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
					} else if errors.Is(err, booking.ErrAlreadyCancelled) {
						rejected++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			assert.Equal(t, 9, rejected)
			assert.Equal(t, 1, bookedSpots(t, s, slotID))
		})
	}
}

// =============================================================================
// READS
// =============================================================================

func TestBookingsByEmail_NewestFirst(t *testing.T) {
	s := store.NewTxMemory()
	seed(t, s, "100", 5)
	engine := booking.NewEngine(s,
		booking.WithClock(&stepClock{t: now}),
		booking.WithLogger(quietLogger))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		b, err := engine.CreateBooking(ctx, request("ada@example.com"))
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}
	_, err := engine.CreateBooking(ctx, request("grace@example.com"))
	require.NoError(t, err)

	got, err := engine.BookingsByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[0], got[2].ID)

	_, err = engine.BookingsByEmail(ctx, "not-an-email")
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
}

func TestValidatePromo(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, "100", 1)
	engine := newEngine(s)
	ctx := context.Background()

	q, err := engine.ValidatePromo(ctx, "save10", dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", q.Code)
	assert.Equal(t, booking.DiscountPercentage, q.DiscountType)
	assert.True(t, dec("100.00").Equal(q.DiscountAmount))

	_, err = engine.ValidatePromo(ctx, "EXPIRED", dec("100"))
	assert.ErrorIs(t, err, booking.ErrInvalidPromo)

	_, err = engine.ValidatePromo(ctx, "UNKNOWN", dec("100"))
	assert.ErrorIs(t, err, booking.ErrInvalidPromo)

	_, err = engine.ValidatePromo(ctx, "SAVE10", dec("0"))
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
	var verr *booking.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "originalPrice", verr.Field)

	_, err = engine.ValidatePromo(ctx, "", dec("10"))
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
}

// =============================================================================
// EVENTS
// =============================================================================

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, e booking.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func TestEvents_PublishedAfterCommit(t *testing.T) {
	s := store.NewTxMemory()
	seed(t, s, "100", 1)

	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e booking.Event) bool {
		return e.Type == booking.EventBookingCreated
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e booking.Event) bool {
		return e.Type == booking.EventBookingCancelled
	})).Return(errors.New("broker down")).Once()

	engine := newEngine(s, booking.WithPublisher(pub))
	ctx := context.Background()

	b, err := engine.CreateBooking(ctx, request("ada@example.com"))
	require.NoError(t, err)

	// A failed publish never fails the committed cancel.
	_, err = engine.CancelBooking(ctx, b.ID)
	require.NoError(t, err)

	// Nothing is published for rolled-back attempts.
	_, err = engine.CreateBooking(ctx, request("bad"))
	require.Error(t, err)

	pub.AssertExpectations(t)
}
