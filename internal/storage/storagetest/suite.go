// Package storagetest holds behaviour tests shared by every storage.Store backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlog/service_layer/internal/domain/smoking"
	"github.com/emberlog/service_layer/internal/storage"
)

// Run exercises store against the storage contract. newStore must return an
// empty store for each call.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("settings default to disabled", func(t *testing.T) {
		testSettings(t, newStore(t))
	})
	t.Run("supply ownership and bounded adjust", func(t *testing.T) {
		testSupplies(t, newStore(t))
	})
	t.Run("events latest and filtered list", func(t *testing.T) {
		testEvents(t, newStore(t))
	})
	t.Run("violations newest first", func(t *testing.T) {
		testViolations(t, newStore(t))
	})
}

func testSettings(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uuid.NewString()

	cfg, err := s.GetIntervalConfig(ctx, user)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)

	minutes := 30
	_, err = s.SaveIntervalConfig(ctx, user, smoking.IntervalConfig{Enabled: true, IntervalMinutes: &minutes})
	require.NoError(t, err)

	cfg, err = s.GetIntervalConfig(ctx, user)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	require.NotNil(t, cfg.IntervalMinutes)
	assert.Equal(t, 30, *cfg.IntervalMinutes)
}

func testSupplies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	owner, other := uuid.NewString(), uuid.NewString()

	sup, err := s.CreateSupply(ctx, smoking.Supply{
		UserID:         owner,
		TotalUnits:     2,
		RemainingUnits: 1,
		UnitPrice:      decimal.RequireFromString("20"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, sup.ID)

	_, err = s.GetSupply(ctx, other, sup.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "foreign supply must be invisible, got %v", err)

	got, err := s.AdjustSupplyRemaining(ctx, owner, sup.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingUnits)

	_, err = s.AdjustSupplyRemaining(ctx, owner, sup.ID, -1)
	assert.True(t, errors.Is(err, storage.ErrConflict), "below zero must conflict, got %v", err)

	_, err = s.AdjustSupplyRemaining(ctx, owner, sup.ID, 3)
	assert.True(t, errors.Is(err, storage.ErrConflict), "above total must conflict, got %v", err)

	got, err = s.GetSupply(ctx, owner, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingUnits)

	list, err := s.ListSupplies(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testEvents(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user, other := uuid.NewString(), uuid.NewString()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	latest, err := s.LatestEvent(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i, at := range []time.Time{base.Add(2 * time.Hour), base, base.Add(time.Hour)} {
		_, err := s.CreateEvent(ctx, smoking.Event{
			UserID:     user,
			OccurredAt: at,
			UnitCost:   decimal.NewFromInt(int64(i)),
		})
		require.NoError(t, err)
	}
	_, err = s.CreateEvent(ctx, smoking.Event{UserID: other, OccurredAt: base.Add(5 * time.Hour)})
	require.NoError(t, err)

	latest, err = s.LatestEvent(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.OccurredAt.Equal(base.Add(2*time.Hour)))

	events, err := s.ListEvents(ctx, storage.EventFilter{UserID: user, From: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].OccurredAt.Before(events[1].OccurredAt), "ascending order")

	// Shared databases may hold rows from earlier runs; count only ours.
	all, err := s.ListEvents(ctx, storage.EventFilter{From: base, To: base.Add(6 * time.Hour)})
	require.NoError(t, err)
	ours := 0
	for _, ev := range all {
		if ev.UserID == user || ev.UserID == other {
			ours++
		}
	}
	assert.Equal(t, 4, ours)

	require.True(t, errors.Is(s.DeleteEvent(ctx, other, latest.ID), storage.ErrNotFound))
	require.NoError(t, s.DeleteEvent(ctx, user, latest.ID))
	_, err = s.GetEvent(ctx, user, latest.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testViolations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uuid.NewString()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ev, err := s.CreateEvent(ctx, smoking.Event{UserID: user, OccurredAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		_, err = s.CreateViolation(ctx, smoking.ViolationRecord{
			UserID:           user,
			EventID:          ev.ID,
			Kind:             smoking.ViolationKindForcedUnlock,
			ExpectedUnlockAt: base.Add(30 * time.Minute),
			ActualAt:         ev.OccurredAt,
			IntervalMinutes:  30,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	list, err := s.ListViolations(ctx, user, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt), "newest first")

	n, err := s.CountViolations(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
