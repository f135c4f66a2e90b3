// Package supabase provides smokelog persistence over the Supabase REST API.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/emberlog/service_layer/internal/clock"
	"github.com/emberlog/service_layer/internal/database"
	"github.com/emberlog/service_layer/internal/domain/smoking"
	"github.com/emberlog/service_layer/internal/storage"
)

const (
	tableSettings   = "interval_settings"
	tableSupplies   = "supplies"
	tableEvents     = "events"
	tableViolations = "violation_logs"
)

// maxAdjustAttempts bounds the compare-and-set loop of AdjustSupplyRemaining.
const maxAdjustAttempts = 3

// Ensure Repository implements storage.Store
var _ storage.Store = (*Repository)(nil)

// Repository provides smokelog data access through PostgREST.
type Repository struct {
	base  database.RepositoryInterface
	clock clock.Clock
}

// NewRepository creates a new smokelog repository.
func NewRepository(base database.RepositoryInterface) *Repository {
	return NewRepositoryWithClock(base, clock.SystemClock{})
}

// NewRepositoryWithClock creates a repository stamping created_at from clk.
func NewRepositoryWithClock(base database.RepositoryInterface, clk clock.Clock) *Repository {
	return &Repository{base: base, clock: clk}
}

// mapError translates database errors into storage sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsNotFound(err):
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	case database.IsConflict(err):
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	default:
		return err
	}
}

// validIDs rejects malformed ids up front; such rows can never exist.
func validIDs(ids ...string) error {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return storage.ErrNotFound
		}
	}
	return nil
}

// =============================================================================
// Settings
// =============================================================================

type settingsRow struct {
	UserID          string    `json:"user_id"`
	Enabled         bool      `json:"enabled"`
	IntervalMinutes *int      `json:"interval_minutes"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// GetIntervalConfig returns the stored config or a disabled default.
func (r *Repository) GetIntervalConfig(ctx context.Context, userID string) (smoking.IntervalConfig, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return smoking.IntervalConfig{}, err
	}
	row, err := database.GenericGetByField[settingsRow](r.base, ctx, tableSettings, "user_id", userID)
	if err != nil {
		if database.IsNotFound(err) {
			return smoking.IntervalConfig{}, nil
		}
		return smoking.IntervalConfig{}, err
	}
	return smoking.IntervalConfig{Enabled: row.Enabled, IntervalMinutes: row.IntervalMinutes}, nil
}

// SaveIntervalConfig upserts the user's settings row.
func (r *Repository) SaveIntervalConfig(ctx context.Context, userID string, cfg smoking.IntervalConfig) (smoking.IntervalConfig, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return smoking.IntervalConfig{}, err
	}
	row := settingsRow{
		UserID:          userID,
		Enabled:         cfg.Enabled,
		IntervalMinutes: cfg.IntervalMinutes,
		UpdatedAt:       r.clock.Now().UTC(),
	}
	if _, err := r.base.Upsert(ctx, tableSettings, row, "user_id"); err != nil {
		return smoking.IntervalConfig{}, fmt.Errorf("save interval settings: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Supplies
// =============================================================================

// CreateSupply inserts a new inventory lot.
func (r *Repository) CreateSupply(ctx context.Context, sup smoking.Supply) (smoking.Supply, error) {
	if err := database.ValidateUserID(sup.UserID); err != nil {
		return smoking.Supply{}, err
	}
	if sup.ID == "" {
		sup.ID = uuid.NewString()
	}
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = r.clock.Now().UTC()
	}
	err := database.GenericCreate(r.base, ctx, tableSupplies, &sup, func(rows []smoking.Supply) {
		if len(rows) > 0 {
			sup = rows[0]
		}
	})
	if err != nil {
		return smoking.Supply{}, mapError(err)
	}
	return sup, nil
}

// GetSupply returns a supply scoped to its owner.
func (r *Repository) GetSupply(ctx context.Context, userID, id string) (smoking.Supply, error) {
	if err := validIDs(userID, id); err != nil {
		return smoking.Supply{}, err
	}
	query := database.NewQuery().Eq("id", id).Eq("user_id", userID).Limit(1).Build()
	rows, err := database.GenericListWithQuery[smoking.Supply](r.base, ctx, tableSupplies, query)
	if err != nil {
		return smoking.Supply{}, err
	}
	if len(rows) == 0 {
		return smoking.Supply{}, fmt.Errorf("%w: supply %s", storage.ErrNotFound, id)
	}
	return rows[0], nil
}

// ListSupplies returns the user's supplies, newest first.
func (r *Repository) ListSupplies(ctx context.Context, userID string) ([]smoking.Supply, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return nil, err
	}
	query := database.NewQuery().Eq("user_id", userID).OrderBy("created_at.desc", "id.asc").Build()
	rows, err := database.GenericListWithQuery[smoking.Supply](r.base, ctx, tableSupplies, query)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []smoking.Supply{}
	}
	return rows, nil
}

// AdjustSupplyRemaining applies delta with a compare-and-set PATCH keyed on the
// remaining count it read, retrying when a concurrent writer got there first.
func (r *Repository) AdjustSupplyRemaining(ctx context.Context, userID, id string, delta int) (smoking.Supply, error) {
	for attempt := 0; attempt < maxAdjustAttempts; attempt++ {
		current, err := r.GetSupply(ctx, userID, id)
		if err != nil {
			return smoking.Supply{}, err
		}
		next := current.RemainingUnits + delta
		if next < 0 || next > current.TotalUnits {
			return smoking.Supply{}, fmt.Errorf("%w: remaining_units %d%+d outside [0, %d]",
				storage.ErrConflict, current.RemainingUnits, delta, current.TotalUnits)
		}

		query := database.NewQuery().
			Eq("id", id).
			Eq("user_id", userID).
			EqInt("remaining_units", current.RemainingUnits).
			Build()
		patch := map[string]interface{}{"remaining_units": next}
		data, err := r.base.Request(ctx, http.MethodPatch, tableSupplies, patch, query)
		if err != nil {
			return smoking.Supply{}, mapError(fmt.Errorf("adjust supply: %w", err))
		}
		var rows []smoking.Supply
		if err := json.Unmarshal(data, &rows); err != nil {
			return smoking.Supply{}, fmt.Errorf("unmarshal supplies: %w", err)
		}
		if len(rows) > 0 {
			return rows[0], nil
		}
	}
	return smoking.Supply{}, fmt.Errorf("%w: supply %s changed concurrently", storage.ErrConflict, id)
}

// =============================================================================
// Events
// =============================================================================

// CreateEvent inserts a logged event.
func (r *Repository) CreateEvent(ctx context.Context, ev smoking.Event) (smoking.Event, error) {
	if err := database.ValidateUserID(ev.UserID); err != nil {
		return smoking.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.clock.Now().UTC()
	}
	err := database.GenericCreate(r.base, ctx, tableEvents, &ev, func(rows []smoking.Event) {
		if len(rows) > 0 {
			ev = rows[0]
		}
	})
	if err != nil {
		return smoking.Event{}, mapError(err)
	}
	return ev, nil
}

// GetEvent returns an event scoped to its owner.
func (r *Repository) GetEvent(ctx context.Context, userID, id string) (smoking.Event, error) {
	if err := validIDs(userID, id); err != nil {
		return smoking.Event{}, err
	}
	query := database.NewQuery().Eq("id", id).Eq("user_id", userID).Limit(1).Build()
	rows, err := database.GenericListWithQuery[smoking.Event](r.base, ctx, tableEvents, query)
	if err != nil {
		return smoking.Event{}, err
	}
	if len(rows) == 0 {
		return smoking.Event{}, fmt.Errorf("%w: event %s", storage.ErrNotFound, id)
	}
	return rows[0], nil
}

// LatestEvent returns the user's most recent event by occurred_at, or nil.
func (r *Repository) LatestEvent(ctx context.Context, userID string) (*smoking.Event, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return nil, err
	}
	query := database.NewQuery().
		Eq("user_id", userID).
		OrderBy("occurred_at.desc", "created_at.desc").
		Limit(1).
		Build()
	rows, err := database.GenericListWithQuery[smoking.Event](r.base, ctx, tableEvents, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// DeleteEvent removes an event owned by userID.
func (r *Repository) DeleteEvent(ctx context.Context, userID, id string) error {
	if err := validIDs(userID, id); err != nil {
		return err
	}
	query := database.NewQuery().Eq("id", id).Eq("user_id", userID).Build()
	deleted, err := database.GenericDelete[smoking.Event](r.base, ctx, tableEvents, query)
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return fmt.Errorf("%w: event %s", storage.ErrNotFound, id)
	}
	return nil
}

// ListEvents returns events matching filter in occurred_at order.
func (r *Repository) ListEvents(ctx context.Context, filter storage.EventFilter) ([]smoking.Event, error) {
	q := database.NewQuery()
	if filter.UserID != "" {
		if err := database.ValidateUserID(filter.UserID); err != nil {
			return nil, err
		}
		q.Eq("user_id", filter.UserID)
	}
	if !filter.From.IsZero() {
		q.Gte("occurred_at", filter.From)
	}
	if !filter.To.IsZero() {
		q.Lt("occurred_at", filter.To)
	}
	q.OrderBy("occurred_at.asc", "id.asc")

	rows, err := database.GenericListWithQuery[smoking.Event](r.base, ctx, tableEvents, q.Build())
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []smoking.Event{}
	}
	return rows, nil
}

// =============================================================================
// Violations
// =============================================================================

// CreateViolation appends a ledger entry.
func (r *Repository) CreateViolation(ctx context.Context, v smoking.ViolationRecord) (smoking.ViolationRecord, error) {
	if err := database.ValidateUserID(v.UserID); err != nil {
		return smoking.ViolationRecord{}, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.clock.Now().UTC()
	}
	err := database.GenericCreate(r.base, ctx, tableViolations, &v, func(rows []smoking.ViolationRecord) {
		if len(rows) > 0 {
			v = rows[0]
		}
	})
	if err != nil {
		return smoking.ViolationRecord{}, mapError(err)
	}
	return v, nil
}

// ListViolations returns up to limit ledger entries, newest first.
func (r *Repository) ListViolations(ctx context.Context, userID string, limit int) ([]smoking.ViolationRecord, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return nil, err
	}
	query := database.NewQuery().
		Eq("user_id", userID).
		OrderBy("created_at.desc", "id.desc").
		Limit(limit).
		Build()
	rows, err := database.GenericListWithQuery[smoking.ViolationRecord](r.base, ctx, tableViolations, query)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []smoking.ViolationRecord{}
	}
	return rows, nil
}

// CountViolations returns the size of the user's ledger.
func (r *Repository) CountViolations(ctx context.Context, userID string) (int, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return 0, err
	}
	return r.base.Count(ctx, tableViolations, database.NewQuery().Eq("user_id", userID).Build())
}

// Ping checks the REST endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.base.Ping(ctx); err != nil {
		if errors.Is(err, database.ErrInvalidInput) {
			return fmt.Errorf("supabase repository not configured: %w", err)
		}
		return err
	}
	return nil
}
