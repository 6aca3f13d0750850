/*
handlers_test.go - End-to-end tests for the HTTP API

Tests for:
- Booking creation with server-side pricing
- The last-spot race through the HTTP layer
- Create + cancel restoring capacity and keeping historical pricing
- Error status/code mapping
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookit/api"
	"github.com/warp/bookit/booking"
	"github.com/warp/bookit/booking/store"
)

var now = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

// Slot ids of the scenarios loaded at `now`.
var (
	coorgID       = api.SeedID("coorg-coffee")
	coorgSlotID   = api.SeedID("coorg-coffee/2025-06-02/09:00")
	lastSpotID    = api.SeedID("last-spot")
	lastSpotSlot  = api.SeedID("last-spot/2025-06-02/20:00")
	unknownUUIDID = "00000000-0000-4000-8000-000000000000"
)

type testServer struct {
	router *chi.Mux
	store  *store.TxMemory
}

// stepClock advances one minute per reading.
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

func newTestServer(t *testing.T, scenario string, opts ...booking.Option) *testServer {
	t.Helper()
	s := store.NewTxMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []booking.Option{
		booking.WithClock(booking.FixedClock(now)),
		booking.WithLogger(logger),
	}
	engine := booking.NewEngine(s, append(base, opts...)...)

	h := api.NewHandler(engine, s, logger)
	h.Clock = booking.FixedClock(now)
	if scenario != "" {
		require.NoError(t, api.LoadScenario(context.Background(), s, scenario, now))
	}
	return &testServer{
		router: api.NewRouter(h, api.RouterOptions{AllowedOrigins: []string{"*"}}),
		store:  s,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) slot(t *testing.T, experienceID, slotID string) api.SlotDTO {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/api/experiences/"+experienceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exp := decode[api.ExperienceDTO](t, rec)
	for _, s := range exp.Slots {
		if s.ID == slotID {
			return s
		}
	}
	t.Fatalf("slot %s not found", slotID)
	return api.SlotDTO{}
}

func bookingBody(experienceID, slotID, email, promo string) api.CreateBookingRequest {
	return api.CreateBookingRequest{
		ExperienceID: experienceID,
		SlotID:       slotID,
		UserName:     "Ada Lovelace",
		UserEmail:    email,
		PromoCode:    promo,
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestListExperiences_DemoCatalog(t *testing.T) {
	ts := newTestServer(t, "demo")

	rec := ts.do(t, http.MethodGet, "/api/experiences", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	exps := decode[[]api.ExperienceDTO](t, rec)
	assert.Len(t, exps, 4)
	for _, e := range exps {
		assert.NotEmpty(t, e.Slots, e.Title)
		for _, s := range e.Slots {
			assert.Equal(t, s.TotalSpots, s.AvailableSpots)
			assert.False(t, s.IsSoldOut)
		}
	}
}

func TestGetExperience_NotFound(t *testing.T) {
	ts := newTestServer(t, "demo")

	for _, id := range []string{unknownUUIDID, "not-a-uuid"} {
		rec := ts.do(t, http.MethodGet, "/api/experiences/"+id, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "not_found", decode[api.ErrorResponse](t, rec).Code)
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestCreateBooking_PricesOnServer(t *testing.T) {
	// GIVEN: the demo catalog with SAVE10 and a 1000.00 experience
	ts := newTestServer(t, "demo")

	// WHEN: a customer books with a lowercase promo code
	rec := ts.do(t, http.MethodPost, "/api/bookings", bookingBody(coorgID, coorgSlotID, "Ada@Example.com", "save10"))

	// THEN: 201 with the discount applied and the email normalized
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[api.CreateBookingResponse](t, rec)
	assert.Regexp(t, `^BK-[0-9A-Z]+-[0-9A-Z]{6}$`, resp.ConfirmationNumber)
	assert.Equal(t, resp.ConfirmationNumber, resp.Booking.ConfirmationNumber)
	assert.Equal(t, 1000.0, resp.Booking.OriginalPrice)
	assert.Equal(t, 100.0, resp.Booking.Discount)
	assert.Equal(t, 900.0, resp.Booking.FinalPrice)
	assert.Equal(t, "SAVE10", resp.Booking.PromoCode)
	assert.Equal(t, "ada@example.com", resp.Booking.UserEmail)
	assert.Equal(t, "confirmed", resp.Booking.Status)

	// AND: the slot lost exactly one spot
	assert.Equal(t, 9, ts.slot(t, coorgID, coorgSlotID).AvailableSpots)
}

func TestCreateBooking_InvalidPromoDoesNotBlock(t *testing.T) {
	ts := newTestServer(t, "demo")

	rec := ts.do(t, http.MethodPost, "/api/bookings", bookingBody(coorgID, coorgSlotID, "ada@example.com", "EXPIRED"))

	require.Equal(t, http.StatusCreated, rec.Code)
	b := decode[api.CreateBookingResponse](t, rec).Booking
	assert.Equal(t, 0.0, b.Discount)
	assert.Equal(t, 1000.0, b.FinalPrice)
	assert.Empty(t, b.PromoCode)
}

func TestCreateBooking_OverlongPromoBooksAtFullPrice(t *testing.T) {
	ts := newTestServer(t, "demo")

	rec := ts.do(t, http.MethodPost, "/api/bookings",
		bookingBody(coorgID, coorgSlotID, "ada@example.com", strings.Repeat("X", booking.MaxPromoCodeLength+1)))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decode[api.CreateBookingResponse](t, rec).Booking
	assert.Equal(t, 1000.0, b.FinalPrice)
	assert.Empty(t, b.PromoCode)
}

func TestCreateBooking_LastSpotRace(t *testing.T) {
	// GIVEN: a slot with one spot left
	ts := newTestServer(t, "last-spot")

	// WHEN: two customers submit at the same moment
	var (
		wg    sync.WaitGroup
		codes = make([]int, 2)
		body  = make([]api.ErrorResponse, 2)
		start = make(chan struct{})
	)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			rec := ts.do(t, http.MethodPost, "/api/bookings",
				bookingBody(lastSpotID, lastSpotSlot, fmt.Sprintf("racer%d@example.com", i), ""))
			codes[i] = rec.Code
			if rec.Code != http.StatusCreated {
				_ = json.Unmarshal(rec.Body.Bytes(), &body[i])
			}
		}(i)
	}
	close(start)
	wg.Wait()

	// THEN: exactly one wins and the other sees slot_unavailable
	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusBadRequest}, codes)
	for i, c := range codes {
		if c == http.StatusBadRequest {
			assert.Equal(t, "slot_unavailable", body[i].Code)
		}
	}

	// AND: the slot is sold out with booked == total
	slot := ts.slot(t, lastSpotID, lastSpotSlot)
	assert.Equal(t, 1, slot.BookedSpots)
	assert.True(t, slot.IsSoldOut)
}

func TestCreateAndCancel_RestoresCapacity(t *testing.T) {
	// GIVEN: a booking with FLAT50 on a 500.00 experience
	ts := newTestServer(t, "last-spot")
	require.NoError(t, api.LoadScenario(context.Background(), ts.store, "demo", now))

	rec := ts.do(t, http.MethodPost, "/api/bookings", bookingBody(lastSpotID, lastSpotSlot, "ada@example.com", "FLAT50"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.CreateBookingResponse](t, rec).Booking
	assert.Equal(t, 450.0, created.FinalPrice)
	assert.True(t, ts.slot(t, lastSpotID, lastSpotSlot).IsSoldOut)

	// WHEN: the booking is cancelled
	rec = ts.do(t, http.MethodPatch, "/api/bookings/"+created.ID+"/cancel", nil)

	// THEN: the booking is cancelled and the spot is back
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[api.BookingDTO](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, 0, ts.slot(t, lastSpotID, lastSpotSlot).BookedSpots)

	// AND: history keeps the original pricing
	rec = ts.do(t, http.MethodGet, "/api/bookings?email=ADA@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]api.BookingDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "cancelled", history[0].Status)
	assert.Equal(t, 500.0, history[0].OriginalPrice)
	assert.Equal(t, 50.0, history[0].Discount)
	assert.Equal(t, 450.0, history[0].FinalPrice)
	assert.Equal(t, "FLAT50", history[0].PromoCode)

	// AND: cancelling again is rejected without releasing twice
	rec = ts.do(t, http.MethodPatch, "/api/bookings/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_cancelled", decode[api.ErrorResponse](t, rec).Code)
	assert.Equal(t, 0, ts.slot(t, lastSpotID, lastSpotSlot).BookedSpots)

	// AND: the booking can still be looked up
	rec = ts.do(t, http.MethodGet, "/api/bookings/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ConfirmationNumber, decode[api.BookingDTO](t, rec).ConfirmationNumber)
}

func TestListBookings_NewestFirst(t *testing.T) {
	ts := newTestServer(t, "demo", booking.WithClock(&stepClock{t: now}))
	slots := []string{
		api.SeedID("coorg-coffee/2025-06-02/09:00"),
		api.SeedID("coorg-coffee/2025-06-02/14:00"),
		api.SeedID("coorg-coffee/2025-06-03/09:00"),
	}
	var want []string
	for _, slotID := range slots {
		rec := ts.do(t, http.MethodPost, "/api/bookings", bookingBody(coorgID, slotID, "grace@example.com", ""))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		want = append([]string{decode[api.CreateBookingResponse](t, rec).Booking.ID}, want...)
	}

	rec := ts.do(t, http.MethodGet, "/api/bookings?email=grace@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]api.BookingDTO](t, rec)

	got := make([]string, 0, len(history))
	for _, b := range history {
		got = append(got, b.ID)
	}
	assert.Equal(t, want, got)

	rec = ts.do(t, http.MethodGet, "/api/bookings?email=nobody@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// =============================================================================
// PROMO
// =============================================================================

func TestValidatePromo(t *testing.T) {
	ts := newTestServer(t, "demo")

	tests := []struct {
		name     string
		body     string
		status   int
		code     string
		discount float64
	}{
		{"percentage", `{"code":"save10","originalPrice":1000}`, http.StatusOK, "", 100},
		{"fixed clamped to price", `{"code":"FLAT50","originalPrice":30}`, http.StatusOK, "", 30},
		{"welcome", `{"code":"WELCOME20","originalPrice":"245"}`, http.StatusOK, "", 49},
		{"expired", `{"code":"EXPIRED","originalPrice":100}`, http.StatusBadRequest, "invalid_promo", 0},
		{"inactive", `{"code":"INACTIVE","originalPrice":100}`, http.StatusBadRequest, "invalid_promo", 0},
		{"unknown", `{"code":"NOPE","originalPrice":100}`, http.StatusBadRequest, "invalid_promo", 0},
		{"missing code", `{"originalPrice":100}`, http.StatusBadRequest, "invalid_input", 0},
		{"zero price", `{"code":"SAVE10","originalPrice":0}`, http.StatusBadRequest, "invalid_input", 0},
		{"malformed body", `{"code":`, http.StatusBadRequest, "invalid_input", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/promo/validate", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				q := decode[api.PromoQuoteDTO](t, rec)
				assert.Equal(t, tt.discount, q.DiscountAmount)
				return
			}
			assert.Equal(t, tt.code, decode[api.ErrorResponse](t, rec).Code)
		})
	}
}

func TestValidatePromo_NonPositivePriceNamesRequestField(t *testing.T) {
	ts := newTestServer(t, "demo")

	rec := ts.do(t, http.MethodPost, "/api/promo/validate", `{"code":"SAVE10","originalPrice":-5}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_input", resp.Code)
	assert.Equal(t, map[string]any{"field": "originalPrice"}, resp.Details)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorCodes(t *testing.T) {
	ts := newTestServer(t, "demo")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad email", http.MethodPost, "/api/bookings", bookingBody(coorgID, coorgSlotID, "not-an-email", ""), http.StatusBadRequest, "invalid_input"},
		{"blank name", http.MethodPost, "/api/bookings", api.CreateBookingRequest{ExperienceID: coorgID, SlotID: coorgSlotID, UserName: "  ", UserEmail: "a@b.co"}, http.StatusBadRequest, "invalid_input"},
		{"missing fields", http.MethodPost, "/api/bookings", `{}`, http.StatusBadRequest, "invalid_input"},
		{"empty body", http.MethodPost, "/api/bookings", nil, http.StatusBadRequest, "invalid_input"},
		{"unknown experience", http.MethodPost, "/api/bookings", bookingBody(unknownUUIDID, coorgSlotID, "a@b.co", ""), http.StatusNotFound, "not_found"},
		{"unknown slot", http.MethodPost, "/api/bookings", bookingBody(coorgID, unknownUUIDID, "a@b.co", ""), http.StatusNotFound, "not_found"},
		{"history without email", http.MethodGet, "/api/bookings", nil, http.StatusBadRequest, "invalid_input"},
		{"history bad email", http.MethodGet, "/api/bookings?email=nope", nil, http.StatusBadRequest, "invalid_input"},
		{"unknown booking", http.MethodGet, "/api/bookings/" + unknownUUIDID, nil, http.StatusNotFound, "not_found"},
		{"cancel unknown booking", http.MethodPatch, "/api/bookings/" + unknownUUIDID + "/cancel", nil, http.StatusNotFound, "not_found"},
		{"unknown route", http.MethodGet, "/api/nope", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[api.ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	// No failed attempt left a reservation behind.
	assert.Equal(t, 0, ts.slot(t, coorgID, coorgSlotID).BookedSpots)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[api.HealthDTO](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.True(t, now.Equal(h.Timestamp))
}
