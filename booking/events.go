package booking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingCancelled EventType = "booking.cancelled"
)

// Event is emitted after a booking transaction commits.
// Delivery is best effort; nothing in the engine depends on it.
type Event struct {
	Type               EventType       `json:"type"`
	BookingID          string          `json:"bookingId"`
	ConfirmationNumber string          `json:"confirmationNumber"`
	ExperienceID       string          `json:"experienceId"`
	SlotID             string          `json:"slotId"`
	UserEmail          string          `json:"userEmail"`
	FinalPrice         decimal.Decimal `json:"finalPrice"`
	OccurredAt         time.Time       `json:"occurredAt"`
}

// NewEvent builds an event from a committed booking.
func NewEvent(t EventType, b Booking, at time.Time) Event {
	return Event{
		Type:               t,
		BookingID:          b.ID,
		ConfirmationNumber: b.ConfirmationNumber,
		ExperienceID:       b.ExperienceID,
		SlotID:             b.SlotID,
		UserEmail:          b.UserEmail,
		FinalPrice:         b.FinalPrice,
		OccurredAt:         at,
	}
}

// Publisher delivers booking events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
