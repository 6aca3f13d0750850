// Package store provides in-memory booking.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/bookit/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a booking.Store without native transactions. Each call is atomic
// on its own, so the engine drives it with compensating actions.
type Memory struct {
	mu sync.RWMutex
	state
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) GetExperience(_ context.Context, id string) (booking.Experience, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getExperience(id)
}

func (m *Memory) ListExperiences(_ context.Context) ([]booking.Experience, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listExperiences(), nil
}

func (m *Memory) SaveExperience(_ context.Context, e booking.Experience) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveExperience(e)
}

// TryReserve is a compare-and-increment under the write lock.
func (m *Memory) TryReserve(_ context.Context, experienceID, slotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryReserve(experienceID, slotID)
}

func (m *Memory) Release(_ context.Context, experienceID, slotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.release(experienceID, slotID)
}

func (m *Memory) AppendBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBooking(b)
}

func (m *Memory) GetBooking(_ context.Context, id string) (booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBooking(id)
}

func (m *Memory) ListBookingsByEmail(_ context.Context, email string) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBookingsByEmail(email), nil
}

func (m *Memory) ListBookings(_ context.Context) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBookings(), nil
}

func (m *Memory) UpdateBookingStatus(_ context.Context, id string, from, to booking.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBookingStatus(id, from, to, at)
}

func (m *Memory) DeleteBooking(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBooking(id)
}

func (m *Memory) GetPromo(_ context.Context, code string) (booking.PromoCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPromo(code)
}

func (m *Memory) SavePromo(_ context.Context, p booking.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.savePromo(p)
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store lock.
func (tm *TxMemory) WithTx(_ context.Context, fn func(booking.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(&txMemoryView{state: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

// txMemoryView runs against the parent's state while its lock is held.
type txMemoryView struct {
	state *state
}

func (tv *txMemoryView) GetExperience(_ context.Context, id string) (booking.Experience, error) {
	return tv.state.getExperience(id)
}

func (tv *txMemoryView) ListExperiences(_ context.Context) ([]booking.Experience, error) {
	return tv.state.listExperiences(), nil
}

func (tv *txMemoryView) SaveExperience(_ context.Context, e booking.Experience) error {
	return tv.state.saveExperience(e)
}

func (tv *txMemoryView) TryReserve(_ context.Context, experienceID, slotID string) error {
	return tv.state.tryReserve(experienceID, slotID)
}

func (tv *txMemoryView) Release(_ context.Context, experienceID, slotID string) error {
	return tv.state.release(experienceID, slotID)
}

func (tv *txMemoryView) AppendBooking(_ context.Context, b booking.Booking) error {
	return tv.state.appendBooking(b)
}

func (tv *txMemoryView) GetBooking(_ context.Context, id string) (booking.Booking, error) {
	return tv.state.getBooking(id)
}

func (tv *txMemoryView) ListBookingsByEmail(_ context.Context, email string) ([]booking.Booking, error) {
	return tv.state.listBookingsByEmail(email), nil
}

func (tv *txMemoryView) ListBookings(_ context.Context) ([]booking.Booking, error) {
	return tv.state.listBookings(), nil
}

func (tv *txMemoryView) UpdateBookingStatus(_ context.Context, id string, from, to booking.Status, at time.Time) (bool, error) {
	return tv.state.updateBookingStatus(id, from, to, at)
}

func (tv *txMemoryView) DeleteBooking(_ context.Context, id string) error {
	return tv.state.deleteBooking(id)
}

func (tv *txMemoryView) GetPromo(_ context.Context, code string) (booking.PromoCode, error) {
	return tv.state.getPromo(code)
}

func (tv *txMemoryView) SavePromo(_ context.Context, p booking.PromoCode) error {
	return tv.state.savePromo(p)
}

// =============================================================================
// STATE - unsynchronized; callers hold the lock
// =============================================================================

type state struct {
	experiences   map[string]booking.Experience
	bookings      map[string]booking.Booking
	confirmations map[string]string // confirmation number -> booking id
	promos        map[string]booking.PromoCode
}

func newState() state {
	return state{
		experiences:   make(map[string]booking.Experience),
		bookings:      make(map[string]booking.Booking),
		confirmations: make(map[string]string),
		promos:        make(map[string]booking.PromoCode),
	}
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.experiences {
		c.experiences[k] = copyExperience(v)
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.confirmations {
		c.confirmations[k] = v
	}
	for k, v := range s.promos {
		c.promos[k] = v
	}
	return c
}

func copyExperience(e booking.Experience) booking.Experience {
	e.Highlights = append([]string(nil), e.Highlights...)
	e.Included = append([]string(nil), e.Included...)
	e.Slots = append([]booking.Slot(nil), e.Slots...)
	return e
}

func (s *state) getExperience(id string) (booking.Experience, error) {
	e, ok := s.experiences[id]
	if !ok {
		return booking.Experience{}, booking.ErrExperienceNotFound
	}
	return copyExperience(e), nil
}

func (s *state) listExperiences() []booking.Experience {
	out := make([]booking.Experience, 0, len(s.experiences))
	for _, e := range s.experiences {
		out = append(out, copyExperience(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) saveExperience(e booking.Experience) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e = copyExperience(e)
	prev, exists := s.experiences[e.ID]
	for i, slot := range e.Slots {
		e.Slots[i].BookedSpots = 0
		if !exists {
			continue
		}
		if old, ok := prev.Slot(slot.ID); ok {
			if old.BookedSpots > slot.TotalSpots {
				return &booking.ValidationError{Field: "totalSpots", Reason: "cannot be lower than booked spots"}
			}
			e.Slots[i].BookedSpots = old.BookedSpots
		}
	}
	if exists {
		e.CreatedAt = prev.CreatedAt
	}
	s.experiences[e.ID] = e
	return nil
}

func (s *state) slotIndex(experienceID, slotID string) (booking.Experience, int, error) {
	e, ok := s.experiences[experienceID]
	if !ok {
		return booking.Experience{}, 0, booking.ErrExperienceNotFound
	}
	for i := range e.Slots {
		if e.Slots[i].ID == slotID {
			return e, i, nil
		}
	}
	return booking.Experience{}, 0, booking.ErrSlotNotFound
}

func (s *state) tryReserve(experienceID, slotID string) error {
	e, i, err := s.slotIndex(experienceID, slotID)
	if err != nil {
		return err
	}
	if e.Slots[i].BookedSpots >= e.Slots[i].TotalSpots {
		return booking.ErrSlotUnavailable
	}
	e.Slots[i].BookedSpots++
	return nil
}

func (s *state) release(experienceID, slotID string) error {
	e, i, err := s.slotIndex(experienceID, slotID)
	if err != nil {
		return err
	}
	if e.Slots[i].BookedSpots <= 0 {
		return booking.ErrCapacityUnderflow
	}
	e.Slots[i].BookedSpots--
	return nil
}

func (s *state) appendBooking(b booking.Booking) error {
	if _, taken := s.confirmations[b.ConfirmationNumber]; taken {
		return booking.ErrDuplicateConfirmation
	}
	s.bookings[b.ID] = b
	s.confirmations[b.ConfirmationNumber] = b.ID
	return nil
}

func (s *state) getBooking(id string) (booking.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrBookingNotFound
	}
	return b, nil
}

func (s *state) listBookingsByEmail(email string) []booking.Booking {
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.UserEmail == email {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *state) listBookings() []booking.Booking {
	out := make([]booking.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) updateBookingStatus(id string, from, to booking.Status, at time.Time) (bool, error) {
	b, ok := s.bookings[id]
	if !ok {
		return false, booking.ErrBookingNotFound
	}
	if b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	s.bookings[id] = b
	return true, nil
}

func (s *state) deleteBooking(id string) error {
	b, ok := s.bookings[id]
	if !ok {
		return booking.ErrBookingNotFound
	}
	delete(s.bookings, id)
	delete(s.confirmations, b.ConfirmationNumber)
	return nil
}

func (s *state) getPromo(code string) (booking.PromoCode, error) {
	p, ok := s.promos[booking.NormalizeCode(code)]
	if !ok {
		return booking.PromoCode{}, booking.ErrPromoNotFound
	}
	return p, nil
}

func (s *state) savePromo(p booking.PromoCode) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Code = booking.NormalizeCode(p.Code)
	s.promos[p.Code] = p
	return nil
}
