/*
Package sqlite provides a SQLite-backed implementation of booking.TxStore.

PURPOSE:
  Single-file persistence for development, demos and small deployments. The
  same conditional-update patterns are used by store/postgres.

INTERFACES IMPLEMENTED:
  booking.Catalog:       experiences + slots
  booking.CapacityStore: conditional UPDATE on slots.booked_spots
  booking.BookingStore:  bookings table with unique confirmation numbers
  booking.PromoStore:    promo_codes table
  booking.TxStore:       WithTx over database/sql transactions

KEY TABLES:
  experiences:  Catalog entries
  slots:        One row per slot, keyed by (experience_id, id); holds the
                authoritative total_spots/booked_spots counters
  bookings:     Ledger records
  promo_codes:  Discount rules, keyed by uppercased code

CAPACITY:
  TryReserve is a single statement:
    UPDATE slots SET booked_spots = booked_spots + 1
    WHERE ... AND booked_spots < total_spots
  The precondition and the increment are evaluated together. A CHECK
  constraint keeps 0 <= booked_spots <= total_spots at the database level.

CONCURRENCY:
  SQLite allows one writer. The pool is capped at one connection so
  transactions serialize in the pool instead of failing with SQLITE_BUSY.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/bookit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := booking.NewEngine(store)

SEE ALSO:
  - booking/store.go: Interface definitions
  - booking/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/bookit/booking"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

// Store implements booking.TxStore using SQLite.
type Store struct {
	db *sql.DB
	queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiences (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		long_description TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		duration TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		highlights_json TEXT NOT NULL DEFAULT '[]',
		included_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Slot capacity lives next to its experience; booked_spots is only
	-- changed by TryReserve/Release.
	CREATE TABLE IF NOT EXISTS slots (
		experience_id TEXT NOT NULL REFERENCES experiences(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		total_spots INTEGER NOT NULL CHECK (total_spots >= 1),
		booked_spots INTEGER NOT NULL DEFAULT 0
			CHECK (booked_spots >= 0 AND booked_spots <= total_spots),
		PRIMARY KEY (experience_id, id)
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		confirmation_number TEXT NOT NULL UNIQUE,
		experience_id TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		user_email TEXT NOT NULL,
		original_price TEXT NOT NULL,
		discount TEXT NOT NULL,
		final_price TEXT NOT NULL,
		promo_code TEXT,
		status TEXT NOT NULL CHECK (status IN ('confirmed', 'cancelled')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_email
		ON bookings(user_email);
	CREATE INDEX IF NOT EXISTS idx_bookings_experience
		ON bookings(experience_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_created_at
		ON bookings(created_at DESC);

	CREATE TABLE IF NOT EXISTS promo_codes (
		code TEXT PRIMARY KEY,
		discount_type TEXT NOT NULL CHECK (discount_type IN ('percentage', 'fixed')),
		discount_value TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		expires_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_promo_codes_active
		ON promo_codes(is_active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes a function within a database transaction.
// Calls made through the Store passed to fn share the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store booking.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx booking.Store) error {
		return tx.(*txStore).reset(ctx)
	})
}

type txStore struct {
	queries
}

// =============================================================================
// QUERIES - shared by Store and txStore
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

func (s queries) GetExperience(ctx context.Context, id string) (booking.Experience, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, title, description, long_description, image, price, duration,
		       location, category, highlights_json, included_json, created_at, updated_at
		FROM experiences WHERE id = ?`, id)
	e, err := scanExperience(row)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Experience{}, booking.ErrExperienceNotFound
	}
	if err != nil {
		return booking.Experience{}, fmt.Errorf("failed to get experience: %w", err)
	}

	slots, err := s.loadSlots(ctx, `WHERE experience_id = ?`, id)
	if err != nil {
		return booking.Experience{}, err
	}
	e.Slots = slots[id]
	return e, nil
}

func (s queries) ListExperiences(ctx context.Context) ([]booking.Experience, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, title, description, long_description, image, price, duration,
		       location, category, highlights_json, included_json, created_at, updated_at
		FROM experiences ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiences: %w", err)
	}
	defer rows.Close()

	var out []booking.Experience
	for rows.Next() {
		e, err := scanExperience(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slots, err := s.loadSlots(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Slots = slots[out[i].ID]
	}
	return out, nil
}

func (s queries) loadSlots(ctx context.Context, where string, args ...any) (map[string][]booking.Slot, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT experience_id, id, date, start_time, end_time, total_spots, booked_spots
		FROM slots `+where+` ORDER BY experience_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load slots: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]booking.Slot)
	for rows.Next() {
		var (
			expID, date string
			sl          booking.Slot
		)
		if err := rows.Scan(&expID, &sl.ID, &date, &sl.StartTime, &sl.EndTime, &sl.TotalSpots, &sl.BookedSpots); err != nil {
			return nil, err
		}
		sl.Date, _ = time.Parse(dateLayout, date)
		out[expID] = append(out[expID], sl)
	}
	return out, rows.Err()
}

// SaveExperience upserts an experience and its slots. Existing slots keep
// their booked_spots; lowering total_spots below it fails the CHECK.
func (s queries) SaveExperience(ctx context.Context, e booking.Experience) error {
	if err := e.Validate(); err != nil {
		return err
	}
	highlights, _ := json.Marshal(nonNil(e.Highlights))
	included, _ := json.Marshal(nonNil(e.Included))
	created, updated := e.CreatedAt, e.UpdatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO experiences
		(id, title, description, long_description, image, price, duration, location,
		 category, highlights_json, included_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			long_description = excluded.long_description,
			image = excluded.image,
			price = excluded.price,
			duration = excluded.duration,
			location = excluded.location,
			category = excluded.category,
			highlights_json = excluded.highlights_json,
			included_json = excluded.included_json,
			updated_at = excluded.updated_at`,
		e.ID, e.Title, e.Description, e.LongDescription, e.Image, e.Price.String(),
		e.Duration, e.Location, e.Category, string(highlights), string(included),
		formatTime(created), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("failed to save experience: %w", err)
	}

	// New slots start empty; booked_spots only moves through TryReserve/Release.
	for i, sl := range e.Slots {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO slots
			(experience_id, id, position, date, start_time, end_time, total_spots, booked_spots)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(experience_id, id) DO UPDATE SET
				position = excluded.position,
				date = excluded.date,
				start_time = excluded.start_time,
				end_time = excluded.end_time,
				total_spots = excluded.total_spots`,
			e.ID, sl.ID, i, sl.Date.UTC().Format(dateLayout), sl.StartTime, sl.EndTime,
			sl.TotalSpots,
		)
		if err != nil {
			if isConstraintError(err, sqlite3.ErrConstraintCheck) {
				return &booking.ValidationError{Field: "totalSpots", Reason: "cannot be lower than booked spots"}
			}
			return fmt.Errorf("failed to save slot %s: %w", sl.ID, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Capacity
// -----------------------------------------------------------------------------

func (s queries) TryReserve(ctx context.Context, experienceID, slotID string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE slots SET booked_spots = booked_spots + 1
		WHERE experience_id = ? AND id = ? AND booked_spots < total_spots`,
		experienceID, slotID)
	if err != nil {
		return fmt.Errorf("failed to reserve slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if err := s.slotExists(ctx, experienceID, slotID); err != nil {
		return err
	}
	return booking.ErrSlotUnavailable
}

func (s queries) Release(ctx context.Context, experienceID, slotID string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE slots SET booked_spots = booked_spots - 1
		WHERE experience_id = ? AND id = ? AND booked_spots > 0`,
		experienceID, slotID)
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if err := s.slotExists(ctx, experienceID, slotID); err != nil {
		return err
	}
	return booking.ErrCapacityUnderflow
}

func (s queries) slotExists(ctx context.Context, experienceID, slotID string) error {
	var expFound, slotFound bool
	err := s.q.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM experiences WHERE id = ?),
			EXISTS(SELECT 1 FROM slots WHERE experience_id = ? AND id = ?)`,
		experienceID, experienceID, slotID).Scan(&expFound, &slotFound)
	if err != nil {
		return fmt.Errorf("failed to check slot: %w", err)
	}
	switch {
	case !expFound:
		return booking.ErrExperienceNotFound
	case !slotFound:
		return booking.ErrSlotNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Bookings
// -----------------------------------------------------------------------------

const bookingColumns = `id, confirmation_number, experience_id, slot_id, user_name, user_email,
	original_price, discount, final_price, promo_code, status, created_at, updated_at`

func (s queries) AppendBooking(ctx context.Context, b booking.Booking) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(confirmation_number) DO NOTHING`,
		b.ID, b.ConfirmationNumber, b.ExperienceID, b.SlotID, b.UserName, b.UserEmail,
		b.OriginalPrice.String(), b.Discount.String(), b.FinalPrice.String(),
		nullString(b.PromoCode), string(b.Status), formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrDuplicateConfirmation
	}
	return nil
}

func (s queries) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, booking.ErrBookingNotFound
	}
	if err != nil {
		return booking.Booking{}, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (s queries) ListBookingsByEmail(ctx context.Context, email string) ([]booking.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE user_email = ?
		ORDER BY created_at DESC, id DESC`, email)
}

func (s queries) ListBookings(ctx context.Context) ([]booking.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		ORDER BY created_at, id`)
}

func (s queries) queryBookings(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s queries) UpdateBookingStatus(ctx context.Context, id string, from, to booking.Status, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE bookings SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id = ?)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, booking.ErrBookingNotFound
	}
	return false, nil
}

func (s queries) DeleteBooking(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Promo codes
// -----------------------------------------------------------------------------

func (s queries) GetPromo(ctx context.Context, code string) (booking.PromoCode, error) {
	var (
		p                  booking.PromoCode
		dtype, value       string
		expires            sql.NullString
		createdAt, updated string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT code, discount_type, discount_value, is_active, expires_at, created_at, updated_at
		FROM promo_codes WHERE code = ?`, booking.NormalizeCode(code),
	).Scan(&p.Code, &dtype, &value, &p.IsActive, &expires, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.PromoCode{}, booking.ErrPromoNotFound
	}
	if err != nil {
		return booking.PromoCode{}, fmt.Errorf("failed to get promo code: %w", err)
	}

	p.DiscountType = booking.DiscountType(dtype)
	p.DiscountValue = mustDecimal(value)
	if expires.Valid {
		t := parseTime(expires.String)
		p.ExpiresAt = &t
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func (s queries) SavePromo(ctx context.Context, p booking.PromoCode) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var expires sql.NullString
	if p.ExpiresAt != nil {
		expires = sql.NullString{String: formatTime(*p.ExpiresAt), Valid: true}
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO promo_codes
		(code, discount_type, discount_value, is_active, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			discount_type = excluded.discount_type,
			discount_value = excluded.discount_value,
			is_active = excluded.is_active,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		booking.NormalizeCode(p.Code), string(p.DiscountType), p.DiscountValue.String(),
		p.IsActive, expires, formatTime(created), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save promo code: %w", err)
	}
	return nil
}

func (s queries) reset(ctx context.Context) error {
	for _, table := range []string{"bookings", "slots", "experiences", "promo_codes"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanExperience(row scanner) (booking.Experience, error) {
	var (
		e                    booking.Experience
		price                string
		highlights, included string
		created, updated     string
	)
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.LongDescription, &e.Image, &price,
		&e.Duration, &e.Location, &e.Category, &highlights, &included, &created, &updated)
	if err != nil {
		return booking.Experience{}, err
	}
	e.Price = mustDecimal(price)
	_ = json.Unmarshal([]byte(highlights), &e.Highlights)
	_ = json.Unmarshal([]byte(included), &e.Included)
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return e, nil
}

func scanBooking(row scanner) (booking.Booking, error) {
	var (
		b                         booking.Booking
		original, discount, final string
		promo                     sql.NullString
		status, created, updated  string
	)
	err := row.Scan(&b.ID, &b.ConfirmationNumber, &b.ExperienceID, &b.SlotID, &b.UserName, &b.UserEmail,
		&original, &discount, &final, &promo, &status, &created, &updated)
	if err != nil {
		return booking.Booking{}, err
	}
	b.OriginalPrice = mustDecimal(original)
	b.Discount = mustDecimal(discount)
	b.FinalPrice = mustDecimal(final)
	b.PromoCode = promo.String
	b.Status = booking.Status(status)
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return b, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isConstraintError(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}
