/*
store.go - Persistence interfaces for the booking engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine never
  reads a slot counter, adds one and writes it back; it asks the store to do
  the conditional update itself.

KEY INTERFACES:
  Catalog:       Experience read model (plus Save for seeding/admin)
  CapacityStore: The two atomic slot-counter operations
  BookingStore:  Ledger persistence (append, lookup, guarded status change)
  PromoStore:    Read-only promo lookup
  TxStore:       Store that can run several calls in one native transaction

ATOMICITY:
  A TxStore wraps TryReserve and AppendBooking in one database transaction.
  A plain Store (e.g. capacity and ledger living in different places) is
  driven through a UnitOfWork that records compensating actions instead.

IMPLEMENTATIONS:
  - store/sqlite: SQLite (TxStore)
  - store/postgres: PostgreSQL via pgx (TxStore)
  - booking/store: in-memory Memory (Store) and TxMemory (TxStore)
*/
package booking

import (
	"context"
	"time"
)

// Catalog supplies experience and slot read models.
type Catalog interface {
	GetExperience(ctx context.Context, id string) (Experience, error)
	ListExperiences(ctx context.Context) ([]Experience, error)

	// SaveExperience upserts an experience and its slot definitions.
	// Existing slots keep their BookedSpots and new slots start at zero,
	// whatever the caller passes; the counter belongs to CapacityStore.
	SaveExperience(ctx context.Context, e Experience) error
}

// CapacityStore holds the authoritative per-slot counters.
type CapacityStore interface {
	// TryReserve increments BookedSpots by one if and only if
	// BookedSpots < TotalSpots, as one indivisible operation.
	// Returns ErrSlotUnavailable when full, ErrExperienceNotFound or
	// ErrSlotNotFound when the target does not exist.
	TryReserve(ctx context.Context, experienceID, slotID string) error

	// Release decrements BookedSpots by one. Returns ErrCapacityUnderflow
	// instead of letting the counter go negative.
	Release(ctx context.Context, experienceID, slotID string) error
}

// BookingStore persists booking records.
// There is no general Update: status changes go through a guarded
// compare-and-set so two cancellations cannot both win.
type BookingStore interface {
	// AppendBooking inserts a new record. Returns ErrDuplicateConfirmation if
	// the confirmation number is already taken.
	AppendBooking(ctx context.Context, b Booking) error

	GetBooking(ctx context.Context, id string) (Booking, error)

	// ListBookingsByEmail returns bookings newest first.
	ListBookingsByEmail(ctx context.Context, email string) ([]Booking, error)

	// ListBookings returns every booking oldest first. Maintenance only.
	ListBookings(ctx context.Context) ([]Booking, error)

	// UpdateBookingStatus sets status to `to` only if it is currently `from`.
	// Returns false (and no error) when the current status differs.
	UpdateBookingStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)

	// DeleteBooking physically removes a record. Maintenance only.
	DeleteBooking(ctx context.Context, id string) error
}

// PromoStore looks up promo codes by normalized code.
type PromoStore interface {
	GetPromo(ctx context.Context, code string) (PromoCode, error)
	SavePromo(ctx context.Context, p PromoCode) error
}

// Store is everything the engine needs.
type Store interface {
	Catalog
	CapacityStore
	BookingStore
	PromoStore
}

// TxStore wraps Store with native transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
