// Package intervallock derives a user's cooldown state from their interval
// configuration and most recent logged event.
package intervallock

import (
	"time"

	"github.com/emberlog/service_layer/internal/domain/smoking"
)

// Evaluate computes the lock state at now. now must be a true UTC instant: the cooldown
// is measured in elapsed wall-clock time, never in civil-zone calendar units.
func Evaluate(cfg smoking.IntervalConfig, lastEventAt *time.Time, now time.Time) smoking.LockStatus {
	status := smoking.LockStatus{}
	if lastEventAt != nil {
		last := lastEventAt.UTC()
		status.LastEventAt = &last
	}

	interval := cfg.Interval()
	if interval <= 0 || lastEventAt == nil {
		return status
	}

	unlockAt := lastEventAt.UTC().Add(interval)
	status.UnlockAt = &unlockAt
	if !now.Before(unlockAt) {
		return status
	}

	status.IsLocked = true
	status.RemainingMinutes = ceilMinutes(unlockAt.Sub(now))
	return status
}

// ceilMinutes rounds up so a locked user never sees zero minutes remaining.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}
