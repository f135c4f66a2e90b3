// Package memory provides an in-memory storage.Store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/emberlog/service_layer/internal/clock"
	"github.com/emberlog/service_layer/internal/domain/smoking"
	"github.com/emberlog/service_layer/internal/storage"
)

// Operation names accepted by FailNext.
const (
	OpGetIntervalConfig     = "GetIntervalConfig"
	OpSaveIntervalConfig    = "SaveIntervalConfig"
	OpCreateSupply          = "CreateSupply"
	OpGetSupply             = "GetSupply"
	OpListSupplies          = "ListSupplies"
	OpAdjustSupplyRemaining = "AdjustSupplyRemaining"
	OpCreateEvent           = "CreateEvent"
	OpGetEvent              = "GetEvent"
	OpLatestEvent           = "LatestEvent"
	OpDeleteEvent           = "DeleteEvent"
	OpListEvents            = "ListEvents"
	OpCreateViolation       = "CreateViolation"
	OpListViolations        = "ListViolations"
	OpCountViolations       = "CountViolations"
	OpPing                  = "Ping"
)

type violationRow struct {
	seq int64
	rec smoking.ViolationRecord
}

// Store is an in-memory implementation of storage.Store. It is safe for
// concurrent use and is intended for tests and local development.
type Store struct {
	mu         sync.RWMutex
	clock      clock.Clock
	seq        int64
	settings   map[string]smoking.IntervalConfig
	supplies   map[string]smoking.Supply
	events     map[string]smoking.Event
	violations []violationRow

	// failures holds errors injected for the next call of an operation.
	failures map[string]error
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store stamping records with the system clock.
func New() *Store {
	return NewWithClock(clock.SystemClock{})
}

// NewWithClock creates an empty store stamping created_at from clk.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		clock:    clk,
		settings: make(map[string]smoking.IntervalConfig),
		supplies: make(map[string]smoking.Supply),
		events:   make(map[string]smoking.Event),
		failures: make(map[string]error),
	}
}

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// takeFailureLocked returns and clears the injected error for op.
func (s *Store) takeFailureLocked(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *Store) takeFailure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeFailureLocked(op)
}

// SettingsStore -------------------------------------------------------------

func (s *Store) GetIntervalConfig(_ context.Context, userID string) (smoking.IntervalConfig, error) {
	if err := s.takeFailure(OpGetIntervalConfig); err != nil {
		return smoking.IntervalConfig{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConfig(s.settings[userID]), nil
}

func (s *Store) SaveIntervalConfig(_ context.Context, userID string, cfg smoking.IntervalConfig) (smoking.IntervalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(OpSaveIntervalConfig); err != nil {
		return smoking.IntervalConfig{}, err
	}
	s.settings[userID] = cloneConfig(cfg)
	return cloneConfig(cfg), nil
}

func cloneConfig(cfg smoking.IntervalConfig) smoking.IntervalConfig {
	if cfg.IntervalMinutes != nil {
		m := *cfg.IntervalMinutes
		cfg.IntervalMinutes = &m
	}
	return cfg
}

// SupplyStore ---------------------------------------------------------------

func (s *Store) CreateSupply(_ context.Context, sup smoking.Supply) (smoking.Supply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(OpCreateSupply); err != nil {
		return smoking.Supply{}, err
	}
	if sup.ID == "" {
		sup.ID = uuid.NewString()
	} else if _, exists := s.supplies[sup.ID]; exists {
		return smoking.Supply{}, storage.ErrConflict
	}
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = s.clock.Now()
	}
	s.supplies[sup.ID] = sup
	return sup, nil
}

func (s *Store) GetSupply(_ context.Context, userID, id string) (smoking.Supply, error) {
	if err := s.takeFailure(OpGetSupply); err != nil {
		return smoking.Supply{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sup, ok := s.supplies[id]
	if !ok || sup.UserID != userID {
		return smoking.Supply{}, storage.ErrNotFound
	}
	return sup, nil
}

func (s *Store) ListSupplies(_ context.Context, userID string) ([]smoking.Supply, error) {
	if err := s.takeFailure(OpListSupplies); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]smoking.Supply, 0)
	for _, sup := range s.supplies {
		if sup.UserID == userID {
			out = append(out, sup)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) AdjustSupplyRemaining(_ context.Context, userID, id string, delta int) (smoking.Supply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(OpAdjustSupplyRemaining); err != nil {
		return smoking.Supply{}, err
	}
	sup, ok := s.supplies[id]
	if !ok || sup.UserID != userID {
		return smoking.Supply{}, storage.ErrNotFound
	}
	next := sup.RemainingUnits + delta
	if next < 0 || next > sup.TotalUnits {
		return smoking.Supply{}, storage.ErrConflict
	}
	sup.RemainingUnits = next
	s.supplies[id] = sup
	return sup, nil
}

// EventStore ----------------------------------------------------------------

func (s *Store) CreateEvent(_ context.Context, ev smoking.Event) (smoking.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(OpCreateEvent); err != nil {
		return smoking.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	} else if _, exists := s.events[ev.ID]; exists {
		return smoking.Event{}, storage.ErrConflict
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	s.events[ev.ID] = cloneEvent(ev)
	return cloneEvent(ev), nil
}

func (s *Store) GetEvent(_ context.Context, userID, id string) (smoking.Event, error) {
	if err := s.takeFailure(OpGetEvent); err != nil {
		return smoking.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok || ev.UserID != userID {
		return smoking.Event{}, storage.ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (s *Store) LatestEvent(_ context.Context, userID string) (*smoking.Event, error) {
	if err := s.takeFailure(OpLatestEvent); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *smoking.Event
	for _, ev := range s.events {
		if ev.UserID != userID {
			continue
		}
		if latest == nil || ev.OccurredAt.After(latest.OccurredAt) ||
			(ev.OccurredAt.Equal(latest.OccurredAt) && ev.CreatedAt.After(latest.CreatedAt)) {
			c := cloneEvent(ev)
			latest = &c
		}
	}
	return latest, nil
}

func (s *Store) DeleteEvent(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(OpDeleteEvent); err != nil {
		return err
	}
	ev, ok := s.events[id]
	if !ok || ev.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *Store) ListEvents(_ context.Context, filter storage.EventFilter) ([]smoking.Event, error) {
	if err := s.takeFailure(OpListEvents); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]smoking.Event, 0)
	for _, ev := range s.events {
		if filter.Matches(ev) {
			out = append(out, cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func cloneEvent(ev smoking.Event) smoking.Event {
	if ev.SupplyID != nil {
		v := *ev.SupplyID
		ev.SupplyID = &v
	}
	if ev.ViolationKind != nil {
		v := *ev.ViolationKind
		ev.ViolationKind = &v
	}
	return ev
}

// ViolationStore ------------------------------------------------------------

func (s *Store) CreateViolation(_ context.Context, v smoking.ViolationRecord) (smoking.ViolationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(OpCreateViolation); err != nil {
		return smoking.ViolationRecord{}, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.clock.Now()
	}
	s.seq++
	s.violations = append(s.violations, violationRow{seq: s.seq, rec: v})
	return v, nil
}

func (s *Store) ListViolations(_ context.Context, userID string, limit int) ([]smoking.ViolationRecord, error) {
	if err := s.takeFailure(OpListViolations); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]violationRow, 0)
	for _, row := range s.violations {
		if row.rec.UserID == userID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].rec.CreatedAt.Equal(rows[j].rec.CreatedAt) {
			return rows[i].seq > rows[j].seq
		}
		return rows[i].rec.CreatedAt.After(rows[j].rec.CreatedAt)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]smoking.ViolationRecord, len(rows))
	for i, row := range rows {
		out[i] = row.rec
	}
	return out, nil
}

func (s *Store) CountViolations(_ context.Context, userID string) (int, error) {
	if err := s.takeFailure(OpCountViolations); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.violations {
		if row.rec.UserID == userID {
			n++
		}
	}
	return n, nil
}

// Ping always succeeds unless a failure was injected.
func (s *Store) Ping(context.Context) error {
	return s.takeFailure(OpPing)
}
