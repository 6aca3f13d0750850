/*
scenarios.go - Seed scenarios for demos and manual testing

PURPOSE:
  Provides pre-configured catalogs and promo codes that can be loaded with a
  single API call or at startup with -seed. Each scenario resets the store
  first, so loading is idempotent.

SCENARIOS:
  demo:       Four experiences over the next week plus the standard promo set
              (SAVE10, FLAT50, WELCOME20, an expired and an inactive code)
  last-spot:  One experience whose only slot has a single spot, for
              exercising the concurrent last-spot race by hand

IDS:
  Experience and slot ids are name-based UUIDs (SHA-1, fixed namespace).
  Experience ids never change between loads; slot ids include the slot date.

SLOT DATES:
  Dates are relative to the clock at load time so the catalog never goes
  stale.

SEE ALSO:
  - handlers.go: Handler struct
  - cmd/server/main.go: -seed flag
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/bookit/booking"
)

// scenarioNamespace roots every seeded id.
var scenarioNamespace = uuid.MustParse("3f6b2a9e-8c1d-4e57-9a30-5b7c2d1e4f60")

// SeedID returns the stable id used for a seeded entity name.
func SeedID(name string) string {
	return uuid.NewSHA1(scenarioNamespace, []byte(name)).String()
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Demo Catalog",
		Description: "Four experiences with a week of slots and the standard promo codes",
	},
	{
		ID:          "last-spot",
		Name:        "Last Spot",
		Description: "One experience with a single one-spot slot for race testing",
	},
}

type experienceSeed struct {
	key         string
	title       string
	description string
	price       string
	duration    string
	location    string
	category    string
	highlights  []string
	included    []string
	times       [][2]string // start/end pairs offered every day
	spots       int
	days        int
}

var demoExperiences = []experienceSeed{
	{
		key:         "northern-lights",
		title:       "Northern Lights Adventure in Iceland",
		description: "Chase the aurora borealis with an expert guide",
		price:       "189",
		duration:    "5 hours",
		location:    "Reykjavik, Iceland",
		category:    "Nature & Wildlife",
		highlights:  []string{"Visit multiple viewing locations", "Hot chocolate under the stars"},
		included:    []string{"Transportation", "Warm clothing", "Photography tips"},
		times:       [][2]string{{"19:00", "00:00"}, {"20:00", "01:00"}, {"21:00", "02:00"}},
		spots:       12,
		days:        4,
	},
	{
		key:         "balloon-cappadocia",
		title:       "Sunrise Hot Air Balloon Ride in Cappadocia",
		description: "Float over fairy chimneys at dawn",
		price:       "245",
		duration:    "3 hours",
		location:    "Cappadocia, Turkey",
		category:    "Adventure",
		highlights:  []string{"Sunrise flight", "Champagne toast on landing"},
		included:    []string{"Hotel pickup", "Breakfast", "Flight certificate"},
		times:       [][2]string{{"05:00", "08:00"}, {"05:30", "08:30"}, {"06:00", "09:00"}},
		spots:       8,
		days:        4,
	},
	{
		key:         "reef-dive",
		title:       "Scuba Diving in the Great Barrier Reef",
		description: "Two guided dives on the outer reef",
		price:       "299",
		duration:    "8 hours",
		location:    "Cairns, Australia",
		category:    "Water Sports",
		highlights:  []string{"Two reef dives", "Marine biologist briefing"},
		included:    []string{"Equipment", "Lunch", "Reef tax"},
		times:       [][2]string{{"07:00", "15:00"}, {"08:00", "16:00"}},
		spots:       20,
		days:        3,
	},
	{
		key:         "coorg-coffee",
		title:       "Coffee Plantation Trail in Coorg",
		description: "Walk the estates and taste single-origin brews",
		price:       "1000",
		duration:    "4 hours",
		location:    "Coorg, Karnataka",
		category:    "Food & Drink",
		highlights:  []string{"Estate walk", "Cupping session"},
		included:    []string{"Tasting", "Snacks"},
		times:       [][2]string{{"09:00", "13:00"}, {"14:00", "18:00"}},
		spots:       10,
		days:        5,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid request body", err.Error())
		return
	}
	if !KnownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "invalid_input", "Unknown scenario", req.ScenarioID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	h.currentScenario = ""

	if err := LoadScenario(ctx, h.Store, req.ScenarioID, h.Clock.Now()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// KnownScenario reports whether id names a loadable scenario.
func KnownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// LoadScenario writes a scenario's catalog and promo codes into store.
// It does not reset the store.
func LoadScenario(ctx context.Context, store booking.Store, id string, now time.Time) error {
	switch id {
	case "demo":
		return loadDemo(ctx, store, now)
	case "last-spot":
		return loadLastSpot(ctx, store, now)
	default:
		return &booking.ValidationError{Field: "scenario", Reason: "unknown scenario " + id}
	}
}

func loadDemo(ctx context.Context, store booking.Store, now time.Time) error {
	for _, seed := range demoExperiences {
		if err := store.SaveExperience(ctx, seed.build(now)); err != nil {
			return fmt.Errorf("seed %s: %w", seed.key, err)
		}
	}

	expired := now.Add(-24 * time.Hour)
	promos := []booking.PromoCode{
		{Code: "SAVE10", DiscountType: booking.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), IsActive: true},
		{Code: "FLAT50", DiscountType: booking.DiscountFixed, DiscountValue: decimal.NewFromInt(50), IsActive: true},
		{Code: "WELCOME20", DiscountType: booking.DiscountPercentage, DiscountValue: decimal.NewFromInt(20), IsActive: true},
		{Code: "EXPIRED", DiscountType: booking.DiscountPercentage, DiscountValue: decimal.NewFromInt(15), IsActive: true, ExpiresAt: &expired},
		{Code: "INACTIVE", DiscountType: booking.DiscountFixed, DiscountValue: decimal.NewFromInt(25), IsActive: false},
	}
	for _, p := range promos {
		p.CreatedAt, p.UpdatedAt = now, now
		if err := store.SavePromo(ctx, p); err != nil {
			return fmt.Errorf("seed promo %s: %w", p.Code, err)
		}
	}
	return nil
}

func loadLastSpot(ctx context.Context, store booking.Store, now time.Time) error {
	seed := experienceSeed{
		key:         "last-spot",
		title:       "Private Chef's Table",
		description: "One seat left at the counter",
		price:       "500",
		duration:    "2 hours",
		location:    "Bangalore, India",
		category:    "Food & Drink",
		times:       [][2]string{{"20:00", "22:00"}},
		spots:       1,
		days:        1,
	}
	if err := store.SaveExperience(ctx, seed.build(now)); err != nil {
		return fmt.Errorf("seed %s: %w", seed.key, err)
	}
	return nil
}

// build expands a seed into an experience with one slot per day and time,
// starting tomorrow.
func (s experienceSeed) build(now time.Time) booking.Experience {
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	e := booking.Experience{
		ID:          SeedID(s.key),
		Title:       s.title,
		Description: s.description,
		Price:       decimal.RequireFromString(s.price),
		Duration:    s.duration,
		Location:    s.location,
		Category:    s.category,
		Highlights:  s.highlights,
		Included:    s.included,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for day := 1; day <= s.days; day++ {
		date := today.AddDate(0, 0, day)
		for _, t := range s.times {
			e.Slots = append(e.Slots, booking.Slot{
				ID:         SeedID(fmt.Sprintf("%s/%s/%s", s.key, date.Format(time.DateOnly), t[0])),
				Date:       date,
				StartTime:  t[0],
				EndTime:    t[1],
				TotalSpots: s.spots,
			})
		}
	}
	return e
}
