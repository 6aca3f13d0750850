/*
engine.go - Booking transaction orchestrator

PURPOSE:
  The Engine is the only component that decides commit vs. rollback. It pairs
  every capacity change with the ledger write that licenses it, so no
  reservation without a booking (or booking without a reservation) is ever
  left behind.

CREATE PROTOCOL:
  Validating -> Reserving -> Pricing -> Persisting -> Committed
  Any failure in the first four stages ends in RolledBack, with every side
  effect of the attempt undone before the error is returned.

CANCEL PROTOCOL:
  Look up -> reject if cancelled -> mark cancelled + release one spot,
  both or neither.

ATOMICITY:
  On a TxStore both halves run in one native transaction. Otherwise the
  engine registers compensating actions on a UnitOfWork (see unit_of_work.go).

SEE ALSO:
  - ledger.go: booking records
  - promo.go: discount evaluation
  - store.go: CapacityStore.TryReserve/Release
*/
package booking

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Stage is a state of a single booking attempt.
type Stage string

const (
	StageValidating Stage = "validating"
	StageReserving  Stage = "reserving"
	StagePricing    Stage = "pricing"
	StagePersisting Stage = "persisting"
	StageCommitted  Stage = "committed"
	StageRolledBack Stage = "rolled_back"

	// Cancel stages.
	StageLookup    Stage = "lookup"
	StageReleasing Stage = "releasing"
)

// Engine orchestrates booking creation and cancellation.
type Engine struct {
	store     Store
	ledger    *Ledger
	clock     Clock
	logger    *slog.Logger
	publisher Publisher
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithCodeGenerator replaces the confirmation number generator.
func WithCodeGenerator(g CodeGenerator) Option {
	return func(e *Engine) { e.ledger.newCode = g }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		clock:     SystemClock(),
		logger:    slog.Default(),
		publisher: NopPublisher{},
	}
	e.ledger = NewLedger(store, e.clock)
	for _, opt := range opts {
		opt(e)
	}
	e.ledger.clock = e.clock
	return e
}

// Store returns the underlying store for read-only catalog access.
func (e *Engine) Store() Store { return e.store }

// =============================================================================
// CREATE
// =============================================================================

// CreateBooking reserves one spot on the requested slot, prices the booking
// and records it, atomically. Errors are wrapped in *StageError.
func (e *Engine) CreateBooking(ctx context.Context, req CreateRequest) (Booking, error) {
	stage := StageValidating
	req, err := req.normalize()
	if err != nil {
		return Booking{}, e.rolledBack(stage, err, "experience_id", req.ExperienceID, "slot_id", req.SlotID)
	}

	var created Booking
	err = atomically(ctx, e.store, func(u *UnitOfWork) error {
		stage = StageValidating
		exp, err := u.Store.GetExperience(ctx, req.ExperienceID)
		if err != nil {
			return err
		}
		if _, ok := exp.Slot(req.SlotID); !ok {
			return ErrSlotNotFound
		}

		stage = StageReserving
		if err := u.Store.TryReserve(ctx, req.ExperienceID, req.SlotID); err != nil {
			return err
		}
		u.OnRollback("release slot", func(ctx context.Context) error {
			return u.Store.Release(ctx, req.ExperienceID, req.SlotID)
		})

		stage = StagePricing
		discount := decimal.Zero
		promoCode := ""
		if req.PromoCode != "" && exp.Price.Sign() > 0 {
			q, err := NewPromoEvaluator(u.Store, e.clock).Evaluate(ctx, req.PromoCode, exp.Price)
			if err != nil {
				return err
			}
			if q.Valid {
				discount = q.DiscountAmount
				promoCode = q.Code
			} else {
				e.logger.InfoContext(ctx, "promo code ignored",
					"code", req.PromoCode, "experience_id", req.ExperienceID)
			}
		}

		stage = StagePersisting
		created, err = e.ledger.with(u.Store).Insert(ctx, Draft{
			ExperienceID:  req.ExperienceID,
			SlotID:        req.SlotID,
			UserName:      req.UserName,
			UserEmail:     req.UserEmail,
			OriginalPrice: exp.Price,
			Discount:      discount,
			PromoCode:     promoCode,
		})
		return err
	})
	if err != nil {
		return Booking{}, e.rolledBack(stage, err, "experience_id", req.ExperienceID, "slot_id", req.SlotID)
	}

	e.logger.InfoContext(ctx, "booking committed",
		"stage", string(StageCommitted),
		"booking_id", created.ID,
		"confirmation", created.ConfirmationNumber,
		"experience_id", created.ExperienceID,
		"slot_id", created.SlotID,
		"final_price", created.FinalPrice.String())
	e.publish(ctx, NewEvent(EventBookingCreated, created, created.CreatedAt))
	return created, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelBooking marks a confirmed booking cancelled and returns its spot to
// the slot, atomically. Cancelling twice returns ErrAlreadyCancelled and
// never releases twice.
func (e *Engine) CancelBooking(ctx context.Context, id string) (Booking, error) {
	stage := StageLookup
	var cancelled Booking
	err := atomically(ctx, e.store, func(u *UnitOfWork) error {
		ledger := e.ledger.with(u.Store)
		b, err := ledger.MarkCancelled(ctx, id)
		if err != nil {
			return err
		}
		u.OnRollback("restore booking", func(ctx context.Context) error {
			return ledger.restore(ctx, b.ID)
		})

		stage = StageReleasing
		if err := u.Store.Release(ctx, b.ExperienceID, b.SlotID); err != nil {
			return err
		}
		cancelled = b
		return nil
	})
	if err != nil {
		return Booking{}, e.rolledBack(stage, err, "booking_id", id)
	}

	e.logger.InfoContext(ctx, "booking cancelled",
		"booking_id", cancelled.ID,
		"experience_id", cancelled.ExperienceID,
		"slot_id", cancelled.SlotID)
	e.publish(ctx, NewEvent(EventBookingCancelled, cancelled, cancelled.UpdatedAt))
	return cancelled, nil
}

// =============================================================================
// READS
// =============================================================================

// GetBooking returns a booking by id.
func (e *Engine) GetBooking(ctx context.Context, id string) (Booking, error) {
	return e.ledger.Get(ctx, id)
}

// BookingsByEmail returns a customer's bookings, newest first.
func (e *Engine) BookingsByEmail(ctx context.Context, email string) ([]Booking, error) {
	return e.ledger.FindByEmail(ctx, email)
}

// ValidatePromo is the advisory pre-check used by checkout. It returns
// ErrInvalidPromo for unknown, inactive or expired codes. The binding price
// is recomputed by CreateBooking.
func (e *Engine) ValidatePromo(ctx context.Context, code string, price decimal.Decimal) (Quote, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Quote{}, &ValidationError{Field: "code", Reason: "is required"}
	}
	if len(code) > MaxPromoCodeLength {
		return Quote{}, &ValidationError{Field: "code", Reason: "cannot exceed 50 characters"}
	}
	q, err := NewPromoEvaluator(e.store, e.clock).Evaluate(ctx, code, price)
	if err != nil {
		return Quote{}, err
	}
	if !q.Valid {
		return q, ErrInvalidPromo
	}
	return q, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) rolledBack(stage Stage, err error, attrs ...any) error {
	attrs = append(attrs, "stage", string(stage), "state", string(StageRolledBack), "error", err)
	switch {
	case IsClientError(err) || IsNotFound(err) || IsConflict(err):
		e.logger.Info("booking attempt rolled back", attrs...)
	default:
		e.logger.Error("booking attempt rolled back", attrs...)
	}

	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if err := e.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.WarnContext(ctx, "publish booking event failed",
			"type", string(ev.Type), "booking_id", ev.BookingID, "error", err)
	}
}
