/*
Package postgres provides a PostgreSQL implementation of booking.TxStore.

PURPOSE:
  Production persistence. Same shape as store/sqlite: a queries value bound
  either to the pool or to a pgx.Tx, so every call made inside WithTx shares
  one transaction.

CAPACITY:
  TryReserve is one conditional UPDATE. Under READ COMMITTED a second writer
  on the same row blocks, then re-evaluates the WHERE clause against the
  committed row, so two requests can never both take the last spot.

MIGRATIONS:
  Embedded goose migrations under migrations/. Migrate holds a Postgres
  session lock so concurrent instances do not race.
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
	"github.com/shopspring/decimal"

	"github.com/warp/bookit/booking"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements booking.TxStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	queries
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: queries{q: pool}}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys, goose.WithSessionLocker(locker))
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&txStore{queries{q: tx}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE bookings, slots, experiences, promo_codes`)
	return err
}

type txStore struct {
	queries
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
}

const experienceColumns = `id::text, title, description, long_description, image, price::text,
	duration, location, category, highlights, included, created_at, updated_at`

func (s queries) GetExperience(ctx context.Context, id string) (booking.Experience, error) {
	row := s.q.QueryRow(ctx, `SELECT `+experienceColumns+` FROM experiences WHERE id = $1`, id)
	e, err := scanExperience(row)
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return booking.Experience{}, booking.ErrExperienceNotFound
		}
		return booking.Experience{}, fmt.Errorf("get experience: %w", err)
	}

	slots, err := s.loadSlots(ctx, `WHERE experience_id = $1`, id)
	if err != nil {
		return booking.Experience{}, err
	}
	e.Slots = slots[e.ID]
	return e, nil
}

func (s queries) ListExperiences(ctx context.Context) ([]booking.Experience, error) {
	rows, err := s.q.Query(ctx, `SELECT `+experienceColumns+` FROM experiences ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list experiences: %w", err)
	}
	defer rows.Close()

	var out []booking.Experience
	for rows.Next() {
		e, err := scanExperience(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experience: %w", err)
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
	rows, err := s.q.Query(ctx, `
SELECT experience_id::text, id::text, date, start_time, end_time, total_spots, booked_spots
FROM slots `+where+`
ORDER BY experience_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]booking.Slot)
	for rows.Next() {
		var (
			expID string
			sl    booking.Slot
		)
		if err := rows.Scan(&expID, &sl.ID, &sl.Date, &sl.StartTime, &sl.EndTime, &sl.TotalSpots, &sl.BookedSpots); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out[expID] = append(out[expID], sl)
	}
	return out, rows.Err()
}

func (s queries) SaveExperience(ctx context.Context, e booking.Experience) error {
	if err := e.Validate(); err != nil {
		return err
	}
	created, updated := e.CreatedAt, e.UpdatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}

	_, err := s.q.Exec(ctx, `
INSERT INTO experiences
	(id, title, description, long_description, image, price, duration, location,
	 category, highlights, included, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	long_description = EXCLUDED.long_description,
	image = EXCLUDED.image,
	price = EXCLUDED.price,
	duration = EXCLUDED.duration,
	location = EXCLUDED.location,
	category = EXCLUDED.category,
	highlights = EXCLUDED.highlights,
	included = EXCLUDED.included,
	updated_at = EXCLUDED.updated_at`,
		e.ID, e.Title, e.Description, e.LongDescription, e.Image, e.Price.String(),
		e.Duration, e.Location, e.Category, nonNil(e.Highlights), nonNil(e.Included), created, updated)
	if err != nil {
		if isInvalidUUID(err) {
			return &booking.ValidationError{Field: "id", Reason: "is not a valid id"}
		}
		return fmt.Errorf("save experience: %w", err)
	}

	// New slots start empty; booked_spots only moves through TryReserve/Release.
	for i, sl := range e.Slots {
		_, err := s.q.Exec(ctx, `
INSERT INTO slots (experience_id, id, position, date, start_time, end_time, total_spots, booked_spots)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
ON CONFLICT (experience_id, id) DO UPDATE SET
	position = EXCLUDED.position,
	date = EXCLUDED.date,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	total_spots = EXCLUDED.total_spots`,
			e.ID, sl.ID, i, sl.Date, sl.StartTime, sl.EndTime, sl.TotalSpots)
		if err != nil {
			switch {
			case isCheckViolation(err):
				return &booking.ValidationError{Field: "totalSpots", Reason: "cannot be lower than booked spots"}
			case isInvalidUUID(err):
				return &booking.ValidationError{Field: "slots", Reason: "slot id is not a valid id"}
			}
			return fmt.Errorf("save slot %s: %w", sl.ID, err)
		}
	}
	return nil
}

func (s queries) TryReserve(ctx context.Context, experienceID, slotID string) error {
	tag, err := s.q.Exec(ctx, `
UPDATE slots SET booked_spots = booked_spots + 1
WHERE experience_id = $1 AND id = $2 AND booked_spots < total_spots`,
		experienceID, slotID)
	if err != nil {
		if isInvalidUUID(err) {
			return booking.ErrSlotNotFound
		}
		return fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := s.slotExists(ctx, experienceID, slotID); err != nil {
		return err
	}
	return booking.ErrSlotUnavailable
}

func (s queries) Release(ctx context.Context, experienceID, slotID string) error {
	tag, err := s.q.Exec(ctx, `
UPDATE slots SET booked_spots = booked_spots - 1
WHERE experience_id = $1 AND id = $2 AND booked_spots > 0`,
		experienceID, slotID)
	if err != nil {
		if isInvalidUUID(err) {
			return booking.ErrSlotNotFound
		}
		return fmt.Errorf("release slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := s.slotExists(ctx, experienceID, slotID); err != nil {
		return err
	}
	return booking.ErrCapacityUnderflow
}

func (s queries) slotExists(ctx context.Context, experienceID, slotID string) error {
	var expFound, slotFound bool
	err := s.q.QueryRow(ctx, `
SELECT
	EXISTS (SELECT 1 FROM experiences WHERE id = $1),
	EXISTS (SELECT 1 FROM slots WHERE experience_id = $1 AND id = $2)`,
		experienceID, slotID).Scan(&expFound, &slotFound)
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	switch {
	case !expFound:
		return booking.ErrExperienceNotFound
	case !slotFound:
		return booking.ErrSlotNotFound
	}
	return nil
}

const bookingColumns = `id::text, confirmation_number, experience_id::text, slot_id::text, user_name,
	user_email, original_price::text, discount::text, final_price::text, promo_code, status,
	created_at, updated_at`

func (s queries) AppendBooking(ctx context.Context, b booking.Booking) error {
	tag, err := s.q.Exec(ctx, `
INSERT INTO bookings
	(id, confirmation_number, experience_id, slot_id, user_name, user_email,
	 original_price, discount, final_price, promo_code, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10, $11, $12, $13)
ON CONFLICT (confirmation_number) DO NOTHING`,
		b.ID, b.ConfirmationNumber, b.ExperienceID, b.SlotID, b.UserName, b.UserEmail,
		b.OriginalPrice.String(), b.Discount.String(), b.FinalPrice.String(),
		nullable(b.PromoCode), string(b.Status), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrDuplicateConfirmation
	}
	return nil
}

func (s queries) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	b, err := scanBooking(s.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return booking.Booking{}, booking.ErrBookingNotFound
		}
		return booking.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s queries) ListBookingsByEmail(ctx context.Context, email string) ([]booking.Booking, error) {
	return s.queryBookings(ctx, `
SELECT `+bookingColumns+` FROM bookings
WHERE user_email = $1
ORDER BY created_at DESC, id DESC`, email)
}

func (s queries) ListBookings(ctx context.Context) ([]booking.Booking, error) {
	return s.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at, id`)
}

func (s queries) queryBookings(ctx context.Context, sql string, args ...any) ([]booking.Booking, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s queries) UpdateBookingStatus(ctx context.Context, id string, from, to booking.Status, at time.Time) (bool, error) {
	var found, updated bool
	err := s.q.QueryRow(ctx, `
WITH upd AS (
	UPDATE bookings SET status = $3, updated_at = $4
	WHERE id = $1 AND status = $2
	RETURNING id
)
SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1), EXISTS (SELECT 1 FROM upd)`,
		id, string(from), string(to), at).Scan(&found, &updated)
	if err != nil {
		if isInvalidUUID(err) {
			return false, booking.ErrBookingNotFound
		}
		return false, fmt.Errorf("update booking status: %w", err)
	}
	if !found {
		return false, booking.ErrBookingNotFound
	}
	return updated, nil
}

func (s queries) DeleteBooking(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return booking.ErrBookingNotFound
		}
		return fmt.Errorf("delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (s queries) GetPromo(ctx context.Context, code string) (booking.PromoCode, error) {
	var (
		p     booking.PromoCode
		dtype string
		value string
	)
	err := s.q.QueryRow(ctx, `
SELECT code, discount_type, discount_value::text, is_active, expires_at, created_at, updated_at
FROM promo_codes WHERE code = $1`, booking.NormalizeCode(code)).
		Scan(&p.Code, &dtype, &value, &p.IsActive, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.PromoCode{}, booking.ErrPromoNotFound
	}
	if err != nil {
		return booking.PromoCode{}, fmt.Errorf("get promo code: %w", err)
	}
	p.DiscountType = booking.DiscountType(dtype)
	p.DiscountValue, err = decimal.NewFromString(value)
	if err != nil {
		return booking.PromoCode{}, fmt.Errorf("parse discount value: %w", err)
	}
	return p, nil
}

func (s queries) SavePromo(ctx context.Context, p booking.PromoCode) error {
	if err := p.Validate(); err != nil {
		return err
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.q.Exec(ctx, `
INSERT INTO promo_codes (code, discount_type, discount_value, is_active, expires_at, created_at, updated_at)
VALUES ($1, $2, $3::text::numeric, $4, $5, $6, NOW())
ON CONFLICT (code) DO UPDATE SET
	discount_type = EXCLUDED.discount_type,
	discount_value = EXCLUDED.discount_value,
	is_active = EXCLUDED.is_active,
	expires_at = EXCLUDED.expires_at,
	updated_at = NOW()`,
		booking.NormalizeCode(p.Code), string(p.DiscountType), p.DiscountValue.String(),
		p.IsActive, p.ExpiresAt, created)
	if err != nil {
		return fmt.Errorf("save promo code: %w", err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanExperience(row pgx.Row) (booking.Experience, error) {
	var (
		e     booking.Experience
		price string
	)
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.LongDescription, &e.Image, &price,
		&e.Duration, &e.Location, &e.Category, &e.Highlights, &e.Included, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return booking.Experience{}, err
	}
	if e.Price, err = decimal.NewFromString(price); err != nil {
		return booking.Experience{}, fmt.Errorf("parse price: %w", err)
	}
	return e, nil
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var (
		b                         booking.Booking
		original, discount, final string
		promo                     *string
		status                    string
	)
	err := row.Scan(&b.ID, &b.ConfirmationNumber, &b.ExperienceID, &b.SlotID, &b.UserName, &b.UserEmail,
		&original, &discount, &final, &promo, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return booking.Booking{}, err
	}
	b.OriginalPrice, _ = decimal.NewFromString(original)
	b.Discount, _ = decimal.NewFromString(discount)
	b.FinalPrice, _ = decimal.NewFromString(final)
	if promo != nil {
		b.PromoCode = *promo
	}
	b.Status = booking.Status(status)
	return b, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
