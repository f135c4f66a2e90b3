// Package storage declares the persistence contracts of the smokelog service.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/emberlog/service_layer/internal/domain/smoking"
)

var (
	// ErrNotFound is returned when a row is missing or owned by another user.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional write did not apply.
	ErrConflict = errors.New("storage: conflict")
)

// SettingsStore persists per-user interval lock settings.
type SettingsStore interface {
	// GetIntervalConfig returns a disabled config when the user has none.
	GetIntervalConfig(ctx context.Context, userID string) (smoking.IntervalConfig, error)
	SaveIntervalConfig(ctx context.Context, userID string, cfg smoking.IntervalConfig) (smoking.IntervalConfig, error)
}

// SupplyStore persists inventory lots.
type SupplyStore interface {
	CreateSupply(ctx context.Context, s smoking.Supply) (smoking.Supply, error)
	GetSupply(ctx context.Context, userID, id string) (smoking.Supply, error)
	ListSupplies(ctx context.Context, userID string) ([]smoking.Supply, error)
	// AdjustSupplyRemaining adds delta to remaining_units only if the result stays
	// within [0, total_units]; otherwise it returns ErrConflict and changes nothing.
	AdjustSupplyRemaining(ctx context.Context, userID, id string, delta int) (smoking.Supply, error)
}

// EventFilter selects events. Zero times are unbounded; From is inclusive and
// To exclusive. An empty UserID matches every user.
type EventFilter struct {
	UserID string
	From   time.Time
	To     time.Time
}

// Matches reports whether ev falls inside the filter.
func (f EventFilter) Matches(ev smoking.Event) bool {
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if !f.From.IsZero() && ev.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.OccurredAt.Before(f.To) {
		return false
	}
	return true
}

// EventStore persists logged events.
type EventStore interface {
	CreateEvent(ctx context.Context, ev smoking.Event) (smoking.Event, error)
	GetEvent(ctx context.Context, userID, id string) (smoking.Event, error)
	// LatestEvent returns the user's event with the greatest occurred_at, or nil.
	LatestEvent(ctx context.Context, userID string) (*smoking.Event, error)
	DeleteEvent(ctx context.Context, userID, id string) error
	// ListEvents returns matching events ordered by occurred_at ascending.
	ListEvents(ctx context.Context, filter EventFilter) ([]smoking.Event, error)
}

// ViolationStore is the append-only violation ledger.
type ViolationStore interface {
	CreateViolation(ctx context.Context, v smoking.ViolationRecord) (smoking.ViolationRecord, error)
	// ListViolations returns at most limit records, newest created_at first.
	ListViolations(ctx context.Context, userID string, limit int) ([]smoking.ViolationRecord, error)
	CountViolations(ctx context.Context, userID string) (int, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	SettingsStore
	SupplyStore
	EventStore
	ViolationStore
	Pinger
}
