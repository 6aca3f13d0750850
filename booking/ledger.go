/*
ledger.go - Booking record log

PURPOSE:
  The Ledger owns booking records. It turns a priced Draft into a Booking
  with identity, confirmation number and timestamps, and performs the one
  state transition a booking has: confirmed -> cancelled.

INVARIANTS:
  1. Pricing fields are written once at insert and never change
  2. ConfirmationNumber is unique across all bookings
  3. Status changes are compare-and-set, so a booking is cancelled at most once

The Ledger does not touch slot capacity. Pairing a ledger write with the
matching counter change is the engine's job.

SEE ALSO:
  - engine.go: pairs ledger writes with TryReserve/Release
  - store.go: BookingStore persistence interface
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// maxCodeAttempts bounds confirmation number regeneration on collision.
const maxCodeAttempts = 5

// Ledger records bookings on top of a BookingStore.
type Ledger struct {
	store   BookingStore
	clock   Clock
	newCode CodeGenerator
	newID   func() string
}

func NewLedger(store BookingStore, clock Clock) *Ledger {
	if clock == nil {
		clock = SystemClock()
	}
	return &Ledger{
		store:   store,
		clock:   clock,
		newCode: NewConfirmationNumber,
		newID:   NewID,
	}
}

// with returns a copy of the ledger bound to another store, typically a
// transaction view.
func (l *Ledger) with(store BookingStore) *Ledger {
	cp := *l
	cp.store = store
	return &cp
}

// Insert records a confirmed booking for d. The final price is derived here
// so it can never disagree with original price and discount.
func (l *Ledger) Insert(ctx context.Context, d Draft) (Booking, error) {
	now := l.clock.Now()
	b := Booking{
		ID:            l.newID(),
		ExperienceID:  d.ExperienceID,
		SlotID:        d.SlotID,
		UserName:      d.UserName,
		UserEmail:     NormalizeEmail(d.UserEmail),
		OriginalPrice: d.OriginalPrice,
		Discount:      d.Discount,
		FinalPrice:    FinalPrice(d.OriginalPrice, d.Discount),
		PromoCode:     d.PromoCode,
		Status:        StatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		b.ConfirmationNumber = l.newCode(now)
		err = l.store.AppendBooking(ctx, b)
		if !errors.Is(err, ErrDuplicateConfirmation) {
			break
		}
	}
	if err != nil {
		return Booking{}, fmt.Errorf("append booking: %w", err)
	}
	return b, nil
}

// Get returns a booking by id.
func (l *Ledger) Get(ctx context.Context, id string) (Booking, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Booking{}, &ValidationError{Field: "id", Reason: "is required"}
	}
	if canonical, ok := CanonicalID(id); ok {
		id = canonical
	}
	return l.store.GetBooking(ctx, id)
}

// FindByEmail returns every booking for email, newest first.
func (l *Ledger) FindByEmail(ctx context.Context, email string) ([]Booking, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "is required"}
	}
	if !ValidEmail(email) {
		return nil, &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	return l.store.ListBookingsByEmail(ctx, email)
}

// MarkCancelled flips a confirmed booking to cancelled. It returns
// ErrAlreadyCancelled if the booking was cancelled before or concurrently.
func (l *Ledger) MarkCancelled(ctx context.Context, id string) (Booking, error) {
	b, err := l.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if b.Status == StatusCancelled {
		return Booking{}, ErrAlreadyCancelled
	}

	now := l.clock.Now()
	ok, err := l.store.UpdateBookingStatus(ctx, b.ID, StatusConfirmed, StatusCancelled, now)
	if err != nil {
		return Booking{}, fmt.Errorf("update booking status: %w", err)
	}
	if !ok {
		return Booking{}, ErrAlreadyCancelled
	}
	b.Status = StatusCancelled
	b.UpdatedAt = now
	return b, nil
}

// restore undoes MarkCancelled. Only used as a compensating action when the
// paired capacity release fails on a store without native transactions.
func (l *Ledger) restore(ctx context.Context, id string) error {
	ok, err := l.store.UpdateBookingStatus(ctx, id, StatusCancelled, StatusConfirmed, l.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("restore booking %s: status changed concurrently", id)
	}
	return nil
}
