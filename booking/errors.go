/*
errors.go - Centralized error types for the booking engine

ERROR CATEGORIES:
  1. Input validation - malformed email, missing field, bad price
  2. Not found - experience, slot, booking, promo
  3. Capacity conflict - slot sold out (expected under concurrent demand)
  4. State-transition conflict - booking already cancelled
  5. Internal/storage faults - everything else, safe to retry from scratch

The first four are distinguishable with errors.Is; the API maps each category
to its own status and code so clients can tell "fix input", "pick another
slot" and "try later" apart.
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput wraps every input validation failure.
	ErrInvalidInput = errors.New("invalid input")

	ErrExperienceNotFound = errors.New("experience not found")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrPromoNotFound      = errors.New("promo code not found")

	// ErrSlotUnavailable is returned when a reservation finds the slot full.
	// This is a normal outcome of a lost race, not a fault.
	ErrSlotUnavailable = errors.New("selected slot is no longer available")

	// ErrAlreadyCancelled is returned when cancelling a cancelled booking.
	ErrAlreadyCancelled = errors.New("booking is already cancelled")

	// ErrInvalidPromo is returned by the advisory promo check for codes that
	// are missing, inactive or expired.
	ErrInvalidPromo = errors.New("invalid or expired promo code")

	// ErrCapacityUnderflow means a release would drive BookedSpots below zero.
	// It only happens if cancellation double-fires and is treated as an
	// internal consistency fault.
	ErrCapacityUnderflow = errors.New("capacity underflow: booked spots would become negative")

	// ErrDuplicateConfirmation is returned by stores when a confirmation
	// number is already taken. The ledger regenerates and retries.
	ErrDuplicateConfirmation = errors.New("duplicate confirmation number")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// StageError records where in the create/cancel protocol an attempt stopped.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage an error was raised in, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the request and resend it.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidPromo)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExperienceNotFound) ||
		errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrPromoNotFound)
}

// IsConflict returns true for expected state conflicts (sold out, already
// cancelled). Retrying with the same arguments will not help.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrAlreadyCancelled)
}

// IsRetryable returns true if the whole operation may be retried from
// scratch. The atomic protocol guarantees an aborted attempt left no effect.
func IsRetryable(err error) bool {
	return err != nil && !IsClientError(err) && !IsNotFound(err) && !IsConflict(err)
}
