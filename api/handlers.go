/*
handlers.go - HTTP API handlers for the booking platform

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every state change to booking.Engine.
  Handlers never touch slot counters or the ledger directly.

ENDPOINTS:
  Catalog:
    GET    /api/experiences              List experiences with slots
    GET    /api/experiences/{id}         Experience detail

  Bookings:
    POST   /api/bookings                 Create a booking (201)
    GET    /api/bookings?email=          Customer history, newest first
    GET    /api/bookings/{id}            Booking lookup
    PATCH  /api/bookings/{id}/cancel     Cancel and release the spot

  Promo:
    POST   /api/promo/validate           Advisory discount quote

  Scenarios:
    GET    /api/scenarios                List seed scenarios
    POST   /api/scenarios/load           Reset and load a scenario

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with:
  - 400: invalid_input, invalid_promo, slot_unavailable, already_cancelled
  - 404: not_found
  - 500: internal_error (details are logged, never returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Seed scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/bookit/booking"
)

// maxBodyBytes caps request bodies; every request DTO is tiny.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence beyond the engine:
// catalog reads and a reset for scenario loading.
type Store interface {
	booking.Store
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *booking.Engine
	Store  Store
	Logger *slog.Logger
	Clock  booking.Clock

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. The engine must be built on the same store.
func NewHandler(engine *booking.Engine, store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine: engine,
		Store:  store,
		Logger: logger,
		Clock:  booking.SystemClock(),
	}
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Timestamp: h.Clock.Now()})
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

// ListExperiences returns the catalog.
func (h *Handler) ListExperiences(w http.ResponseWriter, r *http.Request) {
	exps, err := h.Store.ListExperiences(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]ExperienceDTO, 0, len(exps))
	for _, e := range exps {
		out = append(out, toExperienceDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetExperience returns one experience with slot availability.
func (h *Handler) GetExperience(w http.ResponseWriter, r *http.Request) {
	id, ok := booking.CanonicalID(chi.URLParam(r, "id"))
	if !ok {
		// Malformed ids cannot exist, same as the catalog answering "no".
		h.writeDomainError(w, r, booking.ErrExperienceNotFound)
		return
	}

	e, err := h.Store.GetExperience(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperienceDTO(e))
}

// =============================================================================
// BOOKING ENDPOINTS
// =============================================================================

// CreateBooking reserves a spot and records the booking.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid request body", err.Error())
		return
	}

	b, err := h.Engine.CreateBooking(r.Context(), booking.CreateRequest{
		ExperienceID: req.ExperienceID,
		SlotID:       req.SlotID,
		UserName:     req.UserName,
		UserEmail:    req.UserEmail,
		PromoCode:    req.PromoCode,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateBookingResponse{
		ConfirmationNumber: b.ConfirmationNumber,
		Booking:            toBookingDTO(b),
	})
}

// ListBookings returns a customer's bookings, newest first.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Engine.BookingsByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// GetBooking returns one booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// CancelBooking cancels a confirmed booking and frees its spot.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.CancelBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// =============================================================================
// PROMO ENDPOINTS
// =============================================================================

// ValidatePromo quotes a promo code against a price. The quote is advisory;
// CreateBooking recomputes the discount from the catalog price.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	var req ValidatePromoRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid request body", err.Error())
		return
	}

	q, err := h.Engine.ValidatePromo(r.Context(), req.Code, req.OriginalPrice)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromoQuoteDTO(q))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// errorStatus maps a booking error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrSlotUnavailable):
		return http.StatusBadRequest, "slot_unavailable"
	case errors.Is(err, booking.ErrAlreadyCancelled):
		return http.StatusBadRequest, "already_cancelled"
	case errors.Is(err, booking.ErrInvalidPromo):
		return http.StatusBadRequest, "invalid_promo"
	case errors.Is(err, booking.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case booking.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// errorMessage is the human-readable text for a mapped error.
func errorMessage(err error) string {
	var ve *booking.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, booking.ErrExperienceNotFound):
		return "Experience not found"
	case errors.Is(err, booking.ErrSlotNotFound):
		return "Slot not found"
	case errors.Is(err, booking.ErrBookingNotFound):
		return "Booking not found"
	case errors.Is(err, booking.ErrSlotUnavailable):
		return "Selected slot is no longer available"
	case errors.Is(err, booking.ErrAlreadyCancelled):
		return "Booking is already cancelled"
	case errors.Is(err, booking.ErrInvalidPromo):
		return "Invalid or expired promo code"
	default:
		return "Internal server error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)

	var details any
	if stage, ok := booking.StageOf(err); ok {
		details = map[string]string{"stage": string(stage)}
	}
	var ve *booking.ValidationError
	if errors.As(err, &ve) {
		details = map[string]string{"field": ve.Field}
	}

	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		details = nil
	}
	writeError(w, status, code, errorMessage(err), details)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	if s, ok := details.(string); ok && strings.TrimSpace(s) == "" {
		details = nil
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
