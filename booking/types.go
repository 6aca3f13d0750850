/*
Package booking provides the booking transaction engine.

PURPOSE:
  This package owns the one part of the platform with real correctness risk:
  claiming capacity on a time slot, pricing the booking, and recording it in
  the ledger as a single atomic unit. Catalog browsing, authentication and
  page rendering live elsewhere and only meet this package at its interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Experience: catalog aggregate that owns its slots
  - Slot: a time window with a fixed total and a live booked counter
  - Booking: a customer's reservation with the pricing computed at creation
  - PromoCode: a named discount rule with activity/expiry gating

DESIGN PRINCIPLES:
  1. Derived values (available spots, sold out) are computed, never stored
  2. Money uses decimal.Decimal to avoid floating-point drift
  3. Slot.BookedSpots is only ever changed by CapacityStore.TryReserve/Release

SEE ALSO:
  - store.go: persistence interfaces
  - engine.go: the create/cancel orchestrator
  - promo.go: discount evaluation
*/
package booking

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXPERIENCE & SLOT - Capacity source of truth
// =============================================================================

// Experience is a bookable catalog offering. Slots are owned by the
// experience and have no identity outside it.
type Experience struct {
	ID              string
	Title           string
	Description     string
	LongDescription string
	Image           string
	Price           decimal.Decimal
	Duration        string
	Location        string
	Category        string
	Highlights      []string
	Included        []string
	Slots           []Slot
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Slot returns the slot with the given id.
func (e Experience) Slot(slotID string) (Slot, bool) {
	for _, s := range e.Slots {
		if s.ID == slotID {
			return s, true
		}
	}
	return Slot{}, false
}

// Slot is a date/time window of an experience.
//
// INVARIANT: 0 <= BookedSpots <= TotalSpots, even under concurrent access.
type Slot struct {
	ID          string
	Date        time.Time // calendar date, time component is zero UTC
	StartTime   string    // HH:MM, 24h
	EndTime     string    // HH:MM, 24h
	TotalSpots  int
	BookedSpots int
}

// AvailableSpots is derived from the counters and never persisted.
func (s Slot) AvailableSpots() int { return s.TotalSpots - s.BookedSpots }

// IsSoldOut is derived from the counters and never persisted.
func (s Slot) IsSoldOut() bool { return s.BookedSpots >= s.TotalSpots }

var clockTime = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// ValidClockTime reports whether v is a 24-hour HH:MM time.
func ValidClockTime(v string) bool { return clockTime.MatchString(v) }

// Validate checks the slot fields that are fixed at creation.
func (s Slot) Validate() error {
	if !ValidClockTime(s.StartTime) {
		return &ValidationError{Field: "startTime", Reason: "must be in HH:MM format"}
	}
	if !ValidClockTime(s.EndTime) {
		return &ValidationError{Field: "endTime", Reason: "must be in HH:MM format"}
	}
	if s.TotalSpots < 1 {
		return &ValidationError{Field: "totalSpots", Reason: "must be at least 1"}
	}
	if s.BookedSpots < 0 || s.BookedSpots > s.TotalSpots {
		return &ValidationError{Field: "bookedSpots", Reason: "must be between 0 and totalSpots"}
	}
	return nil
}

// Validate checks an experience and all of its slots before it is saved.
func (e Experience) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if e.Price.IsNegative() {
		return &ValidationError{Field: "price", Reason: "cannot be negative"}
	}
	seen := make(map[string]bool, len(e.Slots))
	for _, s := range e.Slots {
		if seen[s.ID] {
			return &ValidationError{Field: "slots", Reason: "duplicate slot id " + s.ID}
		}
		seen[s.ID] = true
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// BOOKING - Ledger record
// =============================================================================

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Booking is a customer's reservation against one slot.
// Pricing is fixed at creation; cancellation never changes it.
type Booking struct {
	ID                 string
	ConfirmationNumber string
	ExperienceID       string
	SlotID             string
	UserName           string
	UserEmail          string
	OriginalPrice      decimal.Decimal
	Discount           decimal.Decimal
	FinalPrice         decimal.Decimal
	PromoCode          string // empty when no code was applied
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsLive reports whether the booking still holds a unit of slot capacity.
func (b Booking) IsLive() bool { return b.Status == StatusConfirmed }

// Draft is what the orchestrator hands to the ledger. The ledger assigns
// identity, confirmation number and timestamps.
type Draft struct {
	ExperienceID  string
	SlotID        string
	UserName      string
	UserEmail     string
	OriginalPrice decimal.Decimal
	Discount      decimal.Decimal
	PromoCode     string
}

// FinalPrice is max(0, original - discount).
func FinalPrice(original, discount decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, original.Sub(discount))
}

// =============================================================================
// PROMO CODE
// =============================================================================

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoCode is a named discount rule. Codes are stored uppercased.
type PromoCode struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	IsActive      bool
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsValid reports whether the code can be applied at the given instant.
func (p PromoCode) IsValid(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return false
	}
	return true
}

var hundred = decimal.NewFromInt(100)

// Validate checks the discount rule itself.
func (p PromoCode) Validate() error {
	code := NormalizeCode(p.Code)
	if code == "" {
		return &ValidationError{Field: "code", Reason: "is required"}
	}
	if len(code) > MaxPromoCodeLength {
		return &ValidationError{Field: "code", Reason: "cannot exceed 50 characters"}
	}
	if p.DiscountValue.IsNegative() {
		return &ValidationError{Field: "discountValue", Reason: "cannot be negative"}
	}
	switch p.DiscountType {
	case DiscountPercentage:
		if p.DiscountValue.GreaterThan(hundred) {
			return &ValidationError{Field: "discountValue", Reason: "percentage discount must be between 0 and 100"}
		}
	case DiscountFixed:
	default:
		return &ValidationError{Field: "discountType", Reason: "must be either percentage or fixed"}
	}
	return nil
}

// NormalizeCode trims and uppercases a promo code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
