package smokelog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/emberlog/service_layer/internal/domain/smoking"
	svcerrors "github.com/emberlog/service_layer/internal/errors"
	"github.com/emberlog/service_layer/internal/intervallock"
	"github.com/emberlog/service_layer/internal/metrics"
	"github.com/emberlog/service_layer/internal/storage"
)

// CommitRequest asks to record one event against a supply.
type CommitRequest struct {
	SupplyID   string     `json:"supply_id"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Force      bool       `json:"force"`
}

// CommitResult is the outcome of an accepted commit. Violation is nil unless
// a ledger entry was written.
type CommitResult struct {
	Event       smoking.Event
	IsViolation bool
	Violation   *smoking.ViolationRecord
}

// LockStatus derives the user's current lock state from their settings and
// latest event. Nothing is cached.
func (s *Service) LockStatus(ctx context.Context, userID string) (smoking.LockStatus, error) {
	cfg, err := s.store.GetIntervalConfig(ctx, userID)
	if err != nil {
		return smoking.LockStatus{}, svcerrors.StoreFailure("get_interval_config", err)
	}
	latest, err := s.store.LatestEvent(ctx, userID)
	if err != nil {
		return smoking.LockStatus{}, svcerrors.StoreFailure("latest_event", err)
	}
	return intervallock.Evaluate(cfg, occurredAt(latest), s.now()), nil
}

// Commit records an event. A commit inside an active lock is rejected unless
// forced, in which case the event is flagged and a violation is appended.
// Validation failures never write; inventory and ledger follow-ups after the
// event insert are best effort.
func (s *Service) Commit(ctx context.Context, userID string, req CommitRequest) (*CommitResult, error) {
	supplyID := strings.TrimSpace(req.SupplyID)
	if supplyID == "" {
		return nil, svcerrors.BadRequest("supply_id is required")
	}

	release, err := s.guard.Acquire(ctx, userID)
	if err != nil {
		s.metrics.RecordCommit(metrics.OutcomeError)
		return nil, svcerrors.Internal("commit guard unavailable", err)
	}
	defer release()

	log := s.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":   userID,
		"supply_id": supplyID,
		"force":     req.Force,
	})

	// 1. Snapshot config and lock state.
	cfg, err := s.store.GetIntervalConfig(ctx, userID)
	if err != nil {
		s.metrics.RecordCommit(metrics.OutcomeError)
		return nil, svcerrors.StoreFailure("get_interval_config", err)
	}
	now := s.now()
	var status smoking.LockStatus
	if cfg.Enabled {
		latest, err := s.store.LatestEvent(ctx, userID)
		if err != nil {
			s.metrics.RecordCommit(metrics.OutcomeError)
			return nil, svcerrors.StoreFailure("latest_event", err)
		}
		status = intervallock.Evaluate(cfg, occurredAt(latest), now)
	}

	// 2. Strict rejection while locked.
	if status.IsLocked && !req.Force {
		s.metrics.RecordCommit(metrics.OutcomeLocked)
		log.WithField("remaining_minutes", status.RemainingMinutes).Info("commit rejected: interval locked")
		se := svcerrors.Locked(status.RemainingMinutes)
		if status.UnlockAt != nil {
			se = se.WithDetails("unlock_time", status.UnlockAt.Format(time.RFC3339))
		}
		return nil, se
	}

	// 3. Inventory availability.
	supply, err := s.store.GetSupply(ctx, userID, supplyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.RecordCommit(metrics.OutcomeNotFound)
			return nil, svcerrors.NotFound("supply", supplyID)
		}
		s.metrics.RecordCommit(metrics.OutcomeError)
		return nil, svcerrors.StoreFailure("get_supply", err)
	}
	if supply.RemainingUnits <= 0 {
		s.metrics.RecordCommit(metrics.OutcomeExhausted)
		return nil, svcerrors.SupplyExhausted(supplyID)
	}

	// 4-6. Build and write the event.
	at := now
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		at = req.OccurredAt.UTC()
	}
	isViolation := status.IsLocked && req.Force
	ev := smoking.Event{
		UserID:      userID,
		SupplyID:    &supply.ID,
		OccurredAt:  at,
		UnitCost:    supply.UnitCost(),
		IsViolation: isViolation,
	}
	if isViolation {
		kind := smoking.ViolationKindForcedUnlock
		ev.ViolationKind = &kind
	}
	ev, err = s.store.CreateEvent(ctx, ev)
	if err != nil {
		s.metrics.RecordCommit(metrics.OutcomeError)
		return nil, svcerrors.StoreFailure("create_event", err)
	}
	log = log.WithField("event_id", ev.ID)
	result := &CommitResult{Event: ev, IsViolation: isViolation}

	// 7. Ledger entry for a forced unlock.
	if isViolation {
		rec, err := s.store.CreateViolation(ctx, smoking.ViolationRecord{
			UserID:           userID,
			EventID:          ev.ID,
			Kind:             smoking.ViolationKindForcedUnlock,
			ExpectedUnlockAt: *status.UnlockAt,
			ActualAt:         at,
			IntervalMinutes:  cfg.Minutes(),
		})
		if err != nil {
			s.metrics.RecordDrift(metrics.DriftViolationAppend)
			log.WithError(err).Warn("violation append failed after event commit")
		} else {
			result.Violation = &rec
		}
	}

	// 8. Inventory decrement.
	if _, err := s.store.AdjustSupplyRemaining(ctx, userID, supply.ID, -1); err != nil {
		s.metrics.RecordDrift(metrics.DriftDecrement)
		log.WithError(err).Warn("supply decrement failed after event commit")
	}

	if isViolation {
		s.metrics.RecordCommit(metrics.OutcomeViolation)
		log.Info("event committed as forced unlock")
	} else {
		s.metrics.RecordCommit(metrics.OutcomeAccepted)
		log.Debug("event committed")
	}
	return result, nil
}

// DeleteEvent reverses an event and returns its linked unit to the supply.
// The violation ledger is left untouched.
func (s *Service) DeleteEvent(ctx context.Context, userID, eventID string) (smoking.Event, error) {
	ev, err := s.store.GetEvent(ctx, userID, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return smoking.Event{}, svcerrors.NotFound("event", eventID)
		}
		return smoking.Event{}, svcerrors.StoreFailure("get_event", err)
	}
	if err := s.store.DeleteEvent(ctx, userID, eventID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return smoking.Event{}, svcerrors.NotFound("event", eventID)
		}
		return smoking.Event{}, svcerrors.StoreFailure("delete_event", err)
	}

	if ev.SupplyID != nil {
		if _, err := s.store.AdjustSupplyRemaining(ctx, userID, *ev.SupplyID, 1); err != nil {
			s.metrics.RecordDrift(metrics.DriftIncrement)
			s.log.WithContext(ctx).WithFields(logrus.Fields{
				"user_id":   userID,
				"event_id":  eventID,
				"supply_id": *ev.SupplyID,
			}).WithError(err).Warn("supply increment failed after event delete")
		}
	}
	return ev, nil
}

func occurredAt(ev *smoking.Event) *time.Time {
	if ev == nil {
		return nil
	}
	at := ev.OccurredAt
	return &at
}
