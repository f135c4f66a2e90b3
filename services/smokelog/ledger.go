package smokelog

import (
	"context"

	"github.com/emberlog/service_layer/internal/domain/smoking"
	svcerrors "github.com/emberlog/service_layer/internal/errors"
)

// ViolationHistory is a bounded page of the ledger plus whole-history totals.
type ViolationHistory struct {
	Data    []smoking.ViolationRecord `json:"data"`
	Summary smoking.ViolationSummary  `json:"summary"`
}

// Violations lists the newest violations up to limit. A non-positive limit
// uses the configured default; larger limits are capped.
func (s *Service) Violations(ctx context.Context, userID string, limit int) (*ViolationHistory, error) {
	limit = s.clampViolationLimit(limit)

	records, err := s.store.ListViolations(ctx, userID, limit)
	if err != nil {
		return nil, svcerrors.StoreFailure("list_violations", err)
	}
	total, err := s.store.CountViolations(ctx, userID)
	if err != nil {
		return nil, svcerrors.StoreFailure("count_violations", err)
	}

	history := &ViolationHistory{
		Data:    records,
		Summary: smoking.ViolationSummary{TotalCount: total},
	}
	if len(records) > 0 {
		last := records[0].CreatedAt
		history.Summary.LastViolationAt = &last
	}
	return history, nil
}

func (s *Service) clampViolationLimit(limit int) int {
	if limit <= 0 {
		return s.violationLimit
	}
	if limit > s.maxViolationLimit {
		return s.maxViolationLimit
	}
	return limit
}
