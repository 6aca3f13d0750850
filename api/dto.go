/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the booking domain model from the external API contract, so the engine
  can keep decimal money and typed statuses while clients see plain JSON.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Catalog:
    ExperienceDTO, SlotDTO

  Bookings:
    CreateBookingRequest, CreateBookingResponse, BookingDTO

  Promo:
    ValidatePromoRequest, PromoQuoteDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY:
  Prices leave the API as JSON numbers rounded to cents. Incoming prices are
  decoded straight into decimal.Decimal so no float rounding happens on the
  way in.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bookit/booking"
)

// =============================================================================
// CATALOG DTOs
// =============================================================================

// ExperienceDTO is an experience with its slots.
type ExperienceDTO struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	LongDescription string    `json:"longDescription,omitempty"`
	Image           string    `json:"image,omitempty"`
	Price           float64   `json:"price"`
	Duration        string    `json:"duration,omitempty"`
	Location        string    `json:"location,omitempty"`
	Category        string    `json:"category,omitempty"`
	Highlights      []string  `json:"highlights"`
	Included        []string  `json:"included"`
	Slots           []SlotDTO `json:"slots"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SlotDTO carries the derived availability next to the raw counters.
type SlotDTO struct {
	ID             string `json:"id"`
	Date           string `json:"date"` // YYYY-MM-DD
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime"`
	TotalSpots     int    `json:"totalSpots"`
	BookedSpots    int    `json:"bookedSpots"`
	AvailableSpots int    `json:"availableSpots"`
	IsSoldOut      bool   `json:"isSoldOut"`
}

// =============================================================================
// BOOKING DTOs
// =============================================================================

// CreateBookingRequest is the checkout form.
type CreateBookingRequest struct {
	ExperienceID string `json:"experienceId"`
	SlotID       string `json:"slotId"`
	UserName     string `json:"userName"`
	UserEmail    string `json:"userEmail"`
	PromoCode    string `json:"promoCode,omitempty"`
}

// BookingDTO is a booking as shown to its owner.
type BookingDTO struct {
	ID                 string    `json:"id"`
	ConfirmationNumber string    `json:"confirmationNumber"`
	ExperienceID       string    `json:"experienceId"`
	SlotID             string    `json:"slotId"`
	UserName           string    `json:"userName"`
	UserEmail          string    `json:"userEmail"`
	OriginalPrice      float64   `json:"originalPrice"`
	Discount           float64   `json:"discount"`
	FinalPrice         float64   `json:"finalPrice"`
	PromoCode          string    `json:"promoCode,omitempty"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// CreateBookingResponse is returned with 201 Created.
type CreateBookingResponse struct {
	ConfirmationNumber string     `json:"confirmationNumber"`
	Booking            BookingDTO `json:"booking"`
}

// =============================================================================
// PROMO DTOs
// =============================================================================

// ValidatePromoRequest asks what a code is worth against a price.
type ValidatePromoRequest struct {
	Code          string          `json:"code"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
}

// PromoQuoteDTO is the advisory discount shown at checkout.
type PromoQuoteDTO struct {
	Code           string  `json:"code"`
	DiscountType   string  `json:"discountType"`
	DiscountValue  float64 `json:"discountValue"`
	DiscountAmount float64 `json:"discountAmount"`
}

// =============================================================================
// SCENARIO & MISC DTOs
// =============================================================================

// ScenarioDTO describes a loadable data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// HealthDTO is the liveness probe response.
type HealthDTO struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx response. Code is stable and
// machine readable; Error is for humans.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func toExperienceDTO(e booking.Experience) ExperienceDTO {
	dto := ExperienceDTO{
		ID:              e.ID,
		Title:           e.Title,
		Description:     e.Description,
		LongDescription: e.LongDescription,
		Image:           e.Image,
		Price:           money(e.Price),
		Duration:        e.Duration,
		Location:        e.Location,
		Category:        e.Category,
		Highlights:      nonNil(e.Highlights),
		Included:        nonNil(e.Included),
		Slots:           make([]SlotDTO, 0, len(e.Slots)),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	for _, s := range e.Slots {
		dto.Slots = append(dto.Slots, SlotDTO{
			ID:             s.ID,
			Date:           s.Date.Format(time.DateOnly),
			StartTime:      s.StartTime,
			EndTime:        s.EndTime,
			TotalSpots:     s.TotalSpots,
			BookedSpots:    s.BookedSpots,
			AvailableSpots: s.AvailableSpots(),
			IsSoldOut:      s.IsSoldOut(),
		})
	}
	return dto
}

func toBookingDTO(b booking.Booking) BookingDTO {
	return BookingDTO{
		ID:                 b.ID,
		ConfirmationNumber: b.ConfirmationNumber,
		ExperienceID:       b.ExperienceID,
		SlotID:             b.SlotID,
		UserName:           b.UserName,
		UserEmail:          b.UserEmail,
		OriginalPrice:      money(b.OriginalPrice),
		Discount:           money(b.Discount),
		FinalPrice:         money(b.FinalPrice),
		PromoCode:          b.PromoCode,
		Status:             string(b.Status),
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func toBookingDTOs(bs []booking.Booking) []BookingDTO {
	out := make([]BookingDTO, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBookingDTO(b))
	}
	return out
}

func toPromoQuoteDTO(q booking.Quote) PromoQuoteDTO {
	return PromoQuoteDTO{
		Code:           q.Code,
		DiscountType:   string(q.DiscountType),
		DiscountValue:  money(q.DiscountValue),
		DiscountAmount: money(q.DiscountAmount),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
