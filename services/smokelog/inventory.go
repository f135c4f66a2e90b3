package smokelog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/emberlog/service_layer/internal/domain/smoking"
	svcerrors "github.com/emberlog/service_layer/internal/errors"
)

// GetSettings returns the user's interval lock settings.
func (s *Service) GetSettings(ctx context.Context, userID string) (smoking.IntervalConfig, error) {
	cfg, err := s.store.GetIntervalConfig(ctx, userID)
	if err != nil {
		return smoking.IntervalConfig{}, svcerrors.StoreFailure("get_interval_config", err)
	}
	return cfg, nil
}

// UpdateSettings replaces the user's interval lock settings.
func (s *Service) UpdateSettings(ctx context.Context, userID string, cfg smoking.IntervalConfig) (smoking.IntervalConfig, error) {
	if err := cfg.Validate(); err != nil {
		return smoking.IntervalConfig{}, svcerrors.BadRequest(err.Error())
	}
	saved, err := s.store.SaveIntervalConfig(ctx, userID, cfg.Normalized())
	if err != nil {
		return smoking.IntervalConfig{}, svcerrors.StoreFailure("save_interval_config", err)
	}
	s.log.WithContext(ctx).
		WithField("user_id", userID).
		WithField("enabled", saved.Enabled).
		WithField("interval_minutes", saved.Minutes()).
		Info("interval settings updated")
	return saved, nil
}

// CreateSupplyRequest describes a new inventory lot. RemainingUnits defaults
// to TotalUnits.
type CreateSupplyRequest struct {
	TotalUnits     int             `json:"total_units"`
	RemainingUnits *int            `json:"remaining_units,omitempty"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// CreateSupply adds an inventory lot for the user.
func (s *Service) CreateSupply(ctx context.Context, userID string, req CreateSupplyRequest) (smoking.Supply, error) {
	sup := smoking.Supply{
		UserID:         userID,
		TotalUnits:     req.TotalUnits,
		RemainingUnits: req.TotalUnits,
		UnitPrice:      req.UnitPrice,
	}
	if req.RemainingUnits != nil {
		sup.RemainingUnits = *req.RemainingUnits
	}
	if err := sup.Validate(); err != nil {
		return smoking.Supply{}, svcerrors.BadRequest(err.Error())
	}
	created, err := s.store.CreateSupply(ctx, sup)
	if err != nil {
		return smoking.Supply{}, svcerrors.StoreFailure("create_supply", err)
	}
	return created, nil
}

// ListSupplies returns the user's inventory lots, newest first.
func (s *Service) ListSupplies(ctx context.Context, userID string) ([]smoking.Supply, error) {
	supplies, err := s.store.ListSupplies(ctx, userID)
	if err != nil {
		return nil, svcerrors.StoreFailure("list_supplies", err)
	}
	return supplies, nil
}
