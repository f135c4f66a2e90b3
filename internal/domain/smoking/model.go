// Package smoking holds the consumption-log domain records.
package smoking

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Interval bounds in minutes for an enabled lock.
const (
	MinIntervalMinutes = 5
	MaxIntervalMinutes = 1440
)

// PriceScale is the number of decimal places a supply price may carry.
const PriceScale = 2

// ViolationKindForcedUnlock marks an event committed with force during an active lock.
const ViolationKindForcedUnlock = "forced_unlock"

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid record")

// IntervalConfig is a user's self-imposed cooldown setting.
type IntervalConfig struct {
	Enabled         bool `json:"enabled" db:"enabled" yaml:"enabled"`
	IntervalMinutes *int `json:"interval_minutes" db:"interval_minutes" yaml:"interval_minutes"`
}

// Validate enforces the [5, 1440] bound when the lock is enabled.
func (c IntervalConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.IntervalMinutes == nil {
		return fmt.Errorf("%w: interval_minutes is required when enabled", ErrInvalid)
	}
	if m := *c.IntervalMinutes; m < MinIntervalMinutes || m > MaxIntervalMinutes {
		return fmt.Errorf("%w: interval_minutes must be between %d and %d, got %d",
			ErrInvalid, MinIntervalMinutes, MaxIntervalMinutes, m)
	}
	return nil
}

// Normalized returns c as stored. A disabled lock keeps an in-range interval
// for when it is re-enabled and drops an out-of-range one, matching the
// interval_settings CHECK.
func (c IntervalConfig) Normalized() IntervalConfig {
	if c.Enabled || c.IntervalMinutes == nil {
		return c
	}
	if m := *c.IntervalMinutes; m < MinIntervalMinutes || m > MaxIntervalMinutes {
		c.IntervalMinutes = nil
	}
	return c
}

// Interval returns the configured cooldown, or zero when disabled or unset.
func (c IntervalConfig) Interval() time.Duration {
	if !c.Enabled || c.IntervalMinutes == nil {
		return 0
	}
	return time.Duration(*c.IntervalMinutes) * time.Minute
}

// Minutes returns the configured interval or zero.
func (c IntervalConfig) Minutes() int {
	if c.IntervalMinutes == nil {
		return 0
	}
	return *c.IntervalMinutes
}

// Event is one logged consumption.
type Event struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	SupplyID      *string         `json:"supply_id" db:"supply_id"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
	UnitCost      decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	IsViolation   bool            `json:"is_violation" db:"is_violation"`
	ViolationKind *string         `json:"violation_kind" db:"violation_kind"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Supply is an inventory lot such as a pack.
type Supply struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	TotalUnits     int             `json:"total_units" db:"total_units"`
	RemainingUnits int             `json:"remaining_units" db:"remaining_units"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Validate enforces 0 <= remaining <= total and a positive total.
func (s Supply) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: user_id cannot be empty", ErrInvalid)
	}
	if s.TotalUnits <= 0 {
		return fmt.Errorf("%w: total_units must be positive", ErrInvalid)
	}
	if s.RemainingUnits < 0 || s.RemainingUnits > s.TotalUnits {
		return fmt.Errorf("%w: remaining_units must be between 0 and %d", ErrInvalid, s.TotalUnits)
	}
	if s.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit_price cannot be negative", ErrInvalid)
	}
	if !s.UnitPrice.Equal(s.UnitPrice.Round(PriceScale)) {
		return fmt.Errorf("%w: unit_price allows at most %d decimal places, got %s", ErrInvalid, PriceScale, s.UnitPrice)
	}
	return nil
}

// UnitCost is the lot price spread across its units.
func (s Supply) UnitCost() decimal.Decimal {
	if s.TotalUnits <= 0 {
		return decimal.Zero
	}
	return s.UnitPrice.Div(decimal.NewFromInt(int64(s.TotalUnits))).Round(4)
}

// ViolationRecord is the immutable audit entry of a forced unlock.
type ViolationRecord struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	EventID          string    `json:"event_id" db:"event_id"`
	Kind             string    `json:"kind" db:"kind"`
	ExpectedUnlockAt time.Time `json:"expected_unlock_at" db:"expected_unlock_at"`
	ActualAt         time.Time `json:"actual_at" db:"actual_at"`
	IntervalMinutes  int       `json:"interval_minutes" db:"interval_minutes"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// LockStatus is derived on every query and never persisted.
type LockStatus struct {
	IsLocked         bool       `json:"is_locked"`
	LastEventAt      *time.Time `json:"last_smoke_time"`
	UnlockAt         *time.Time `json:"unlock_time"`
	RemainingMinutes int        `json:"remaining_minutes"`
}

// ViolationSummary aggregates a user's whole violation history.
type ViolationSummary struct {
	TotalCount      int        `json:"total_count"`
	LastViolationAt *time.Time `json:"last_violation_time"`
}
