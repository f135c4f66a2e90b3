// Package postgres implements storage.Store on PostgreSQL through sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/emberlog/service_layer/internal/clock"
	"github.com/emberlog/service_layer/internal/domain/smoking"
	"github.com/emberlog/service_layer/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db    *sqlx.DB
	clock clock.Clock
}

var _ storage.Store = (*Store)(nil)

// Options configures the connection pool opened by Open.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLife)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return NewWithClock(db, clock.SystemClock{})
}

// NewWithClock creates a Store stamping created_at from clk.
func NewWithClock(db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{db: db, clock: clk}
}

// mapError translates driver errors into storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23514":
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
		case "22P02":
			// Malformed uuid can never match a row.
			return storage.ErrNotFound
		}
	}
	return err
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// --- SettingsStore ----------------------------------------------------------

func (s *Store) GetIntervalConfig(ctx context.Context, userID string) (smoking.IntervalConfig, error) {
	var cfg smoking.IntervalConfig
	err := s.db.GetContext(ctx, &cfg, `
		SELECT enabled, interval_minutes
		FROM interval_settings
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if err = mapError(err); errors.Is(err, storage.ErrNotFound) {
			return smoking.IntervalConfig{}, nil
		}
		return smoking.IntervalConfig{}, err
	}
	return cfg, nil
}

func (s *Store) SaveIntervalConfig(ctx context.Context, userID string, cfg smoking.IntervalConfig) (smoking.IntervalConfig, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interval_settings (user_id, enabled, interval_minutes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
		    interval_minutes = EXCLUDED.interval_minutes,
		    updated_at = EXCLUDED.updated_at
	`, userID, cfg.Enabled, cfg.IntervalMinutes, s.now())
	if err != nil {
		return smoking.IntervalConfig{}, mapError(err)
	}
	return cfg, nil
}

// --- SupplyStore ------------------------------------------------------------

const supplyColumns = `id, user_id, total_units, remaining_units, unit_price, created_at`

func (s *Store) CreateSupply(ctx context.Context, sup smoking.Supply) (smoking.Supply, error) {
	if sup.ID == "" {
		sup.ID = uuid.NewString()
	}
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO supplies (`+supplyColumns+`)
		VALUES (:id, :user_id, :total_units, :remaining_units, :unit_price, :created_at)
	`, sup)
	if err != nil {
		return smoking.Supply{}, mapError(err)
	}
	return sup, nil
}

func (s *Store) GetSupply(ctx context.Context, userID, id string) (smoking.Supply, error) {
	var sup smoking.Supply
	err := s.db.GetContext(ctx, &sup, `
		SELECT `+supplyColumns+`
		FROM supplies
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return smoking.Supply{}, mapError(err)
	}
	return sup, nil
}

func (s *Store) ListSupplies(ctx context.Context, userID string) ([]smoking.Supply, error) {
	out := make([]smoking.Supply, 0)
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+supplyColumns+`
		FROM supplies
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// AdjustSupplyRemaining applies delta in one guarded statement so concurrent
// commits cannot push the count outside [0, total_units].
func (s *Store) AdjustSupplyRemaining(ctx context.Context, userID, id string, delta int) (smoking.Supply, error) {
	var sup smoking.Supply
	err := s.db.GetContext(ctx, &sup, `
		UPDATE supplies
		SET remaining_units = remaining_units + $3
		WHERE id = $1 AND user_id = $2
		  AND remaining_units + $3 BETWEEN 0 AND total_units
		RETURNING `+supplyColumns, id, userID, delta)
	if err == nil {
		return sup, nil
	}
	if err = mapError(err); !errors.Is(err, storage.ErrNotFound) {
		return smoking.Supply{}, err
	}
	// No row updated: either the supply is missing or the bound rejected it.
	if _, getErr := s.GetSupply(ctx, userID, id); getErr != nil {
		return smoking.Supply{}, getErr
	}
	return smoking.Supply{}, storage.ErrConflict
}

// --- EventStore -------------------------------------------------------------

const eventColumns = `id, user_id, supply_id, occurred_at, unit_cost, is_violation, violation_kind, created_at`

func (s *Store) CreateEvent(ctx context.Context, ev smoking.Event) (smoking.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (:id, :user_id, :supply_id, :occurred_at, :unit_cost, :is_violation, :violation_kind, :created_at)
	`, ev)
	if err != nil {
		return smoking.Event{}, mapError(err)
	}
	return ev, nil
}

func (s *Store) GetEvent(ctx context.Context, userID, id string) (smoking.Event, error) {
	var ev smoking.Event
	err := s.db.GetContext(ctx, &ev, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return smoking.Event{}, mapError(err)
	}
	return ev, nil
}

func (s *Store) LatestEvent(ctx context.Context, userID string) (*smoking.Event, error) {
	var ev smoking.Event
	err := s.db.GetContext(ctx, &ev, `
		SELECT `+eventColumns+`
		FROM events
		WHERE user_id = $1
		ORDER BY occurred_at DESC, created_at DESC
		LIMIT 1
	`, userID)
	if err != nil {
		if err = mapError(err); errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func (s *Store) DeleteEvent(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]smoking.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE TRUE`
	var args []interface{}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		query += fmt.Sprintf(" AND occurred_at < $%d", len(args))
	}
	query += " ORDER BY occurred_at ASC, id"

	out := make([]smoking.Event, 0)
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// --- ViolationStore ---------------------------------------------------------

const violationColumns = `id, user_id, event_id, kind, expected_unlock_at, actual_at, interval_minutes, created_at`

func (s *Store) CreateViolation(ctx context.Context, v smoking.ViolationRecord) (smoking.ViolationRecord, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO violation_logs (`+violationColumns+`)
		VALUES (:id, :user_id, :event_id, :kind, :expected_unlock_at, :actual_at, :interval_minutes, :created_at)
	`, v)
	if err != nil {
		return smoking.ViolationRecord{}, mapError(err)
	}
	return v, nil
}

func (s *Store) ListViolations(ctx context.Context, userID string, limit int) ([]smoking.ViolationRecord, error) {
	query := `
		SELECT ` + violationColumns + `
		FROM violation_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	out := make([]smoking.ViolationRecord, 0)
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) CountViolations(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM violation_logs WHERE user_id = $1`, userID); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
