package smokelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlog/service_layer/internal/clock"
	"github.com/emberlog/service_layer/internal/domain/smoking"
	svcerrors "github.com/emberlog/service_layer/internal/errors"
	"github.com/emberlog/service_layer/internal/guard"
	"github.com/emberlog/service_layer/internal/logging"
	"github.com/emberlog/service_layer/internal/metrics"
	"github.com/emberlog/service_layer/internal/storage"
	"github.com/emberlog/service_layer/internal/storage/memory"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *memory.Store
	clock   *clock.Fixed
	metrics *metrics.Metrics
	user    string
	supply  smoking.Supply
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFixed(t0)
	store := memory.NewWithClock(clk)
	m := metrics.New()
	svc, err := New(Config{
		Store:   store,
		Clock:   clk,
		Guard:   guard.NewLocal(),
		Logger:  logging.New(ServiceID, "error", "text"),
		Metrics: m,
	})
	require.NoError(t, err)

	f := &fixture{svc: svc, store: store, clock: clk, metrics: m, user: uuid.NewString()}
	f.supply, err = store.CreateSupply(context.Background(), smoking.Supply{
		UserID:         f.user,
		TotalUnits:     20,
		RemainingUnits: 20,
		UnitPrice:      decimal.RequireFromString("25"),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) enableLock(t *testing.T, minutes int) {
	t.Helper()
	_, err := f.svc.UpdateSettings(context.Background(), f.user, smoking.IntervalConfig{Enabled: true, IntervalMinutes: &minutes})
	require.NoError(t, err)
}

func (f *fixture) commit(t *testing.T, force bool) (*CommitResult, error) {
	t.Helper()
	return f.svc.Commit(context.Background(), f.user, CommitRequest{SupplyID: f.supply.ID, Force: force})
}

func (f *fixture) remaining(t *testing.T) int {
	t.Helper()
	sup, err := f.store.GetSupply(context.Background(), f.user, f.supply.ID)
	require.NoError(t, err)
	return sup.RemainingUnits
}

func (f *fixture) eventCount(t *testing.T) int {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), storage.EventFilter{UserID: f.user})
	require.NoError(t, err)
	return len(events)
}

func (f *fixture) violationCount(t *testing.T) int {
	t.Helper()
	n, err := f.store.CountViolations(context.Background(), f.user)
	require.NoError(t, err)
	return n
}

// counter reads one labelled series from the service registry.
func (f *fixture) counter(t *testing.T, name, label string) float64 {
	t.Helper()
	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabelValue(m, label) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabelValue(m *dto.Metric, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_RejectsDefaultAboveMax(t *testing.T) {
	_, err := New(Config{Store: memory.New(), ViolationLimit: 600, MaxViolationLimit: 500})
	assert.Error(t, err)
}

func TestLockStatus_Scenario(t *testing.T) {
	f := newFixture(t)
	f.enableLock(t, 30)

	_, err := f.commit(t, false)
	require.NoError(t, err)

	f.clock.Set(t0.Add(20 * time.Minute))
	status, err := f.svc.LockStatus(context.Background(), f.user)
	require.NoError(t, err)
	assert.True(t, status.IsLocked)
	assert.Equal(t, 10, status.RemainingMinutes)
	require.NotNil(t, status.UnlockAt)
	assert.Equal(t, "2024-01-01T00:30:00Z", status.UnlockAt.Format(time.RFC3339))
	require.NotNil(t, status.LastEventAt)
	assert.True(t, status.LastEventAt.Equal(t0))
}

func TestLockStatus_DisabledNeverLocks(t *testing.T) {
	f := newFixture(t)
	_, err := f.commit(t, false)
	require.NoError(t, err)

	status, err := f.svc.LockStatus(context.Background(), f.user)
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Zero(t, status.RemainingMinutes)
	require.NotNil(t, status.LastEventAt, "last event is reported even when unlocked")
}

func TestCommit_LockedWithoutForceWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.enableLock(t, 30)
	_, err := f.commit(t, false)
	require.NoError(t, err)
	require.Equal(t, 19, f.remaining(t))

	f.clock.Set(t0.Add(20 * time.Minute))
	_, err = f.commit(t, false)
	require.Error(t, err)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeLocked), "got %v", err)
	se := svcerrors.GetServiceError(err)
	assert.Equal(t, 403, se.HTTPStatus)
	assert.Equal(t, 10, se.Details["remaining_minutes"])

	assert.Equal(t, 1, f.eventCount(t))
	assert.Equal(t, 0, f.violationCount(t))
	assert.Equal(t, 19, f.remaining(t))
	assert.Equal(t, float64(1), f.counter(t, "smokelog_events_commits_total", metrics.OutcomeLocked))
}

func TestCommit_ForcedWhileLockedRecordsViolation(t *testing.T) {
	f := newFixture(t)
	f.enableLock(t, 30)
	first, err := f.commit(t, false)
	require.NoError(t, err)
	assert.False(t, first.IsViolation)
	assert.Nil(t, first.Event.ViolationKind)

	f.clock.Set(t0.Add(20 * time.Minute))
	res, err := f.commit(t, true)
	require.NoError(t, err)
	assert.True(t, res.IsViolation)
	assert.True(t, res.Event.IsViolation)
	require.NotNil(t, res.Event.ViolationKind)
	assert.Equal(t, smoking.ViolationKindForcedUnlock, *res.Event.ViolationKind)

	history, err := f.svc.Violations(context.Background(), f.user, 0)
	require.NoError(t, err)
	require.Len(t, history.Data, 1)
	rec := history.Data[0]
	assert.Equal(t, res.Event.ID, rec.EventID)
	assert.Equal(t, 30, rec.IntervalMinutes)
	assert.True(t, rec.ExpectedUnlockAt.Equal(t0.Add(30*time.Minute)))
	assert.True(t, rec.ActualAt.Equal(t0.Add(20*time.Minute)))
	assert.Equal(t, 1, history.Summary.TotalCount)
	require.NotNil(t, history.Summary.LastViolationAt)

	assert.Equal(t, 2, f.eventCount(t))
	assert.Equal(t, 18, f.remaining(t))
}

func TestCommit_ForceWhenUnlockedIsNotViolation(t *testing.T) {
	f := newFixture(t)
	f.enableLock(t, 30)
	_, err := f.commit(t, false)
	require.NoError(t, err)

	f.clock.Set(t0.Add(30 * time.Minute))
	res, err := f.commit(t, true)
	require.NoError(t, err)
	assert.False(t, res.IsViolation)
	assert.Equal(t, 0, f.violationCount(t))
}

func TestCommit_ExhaustedSupplyAlwaysFails(t *testing.T) {
	for _, force := range []bool{false, true} {
		f := newFixture(t)
		empty, err := f.store.CreateSupply(context.Background(), smoking.Supply{
			UserID: f.user, TotalUnits: 20, RemainingUnits: 0, UnitPrice: decimal.NewFromInt(25),
		})
		require.NoError(t, err)

		_, err = f.svc.Commit(context.Background(), f.user, CommitRequest{SupplyID: empty.ID, Force: force})
		assert.True(t, svcerrors.HasCode(err, svcerrors.CodeSupplyExhausted), "force=%v got %v", force, err)
		assert.Equal(t, 0, f.eventCount(t))
	}
}

func TestCommit_ForcedOnExhaustedSupplyWritesNoViolation(t *testing.T) {
	f := newFixture(t)
	f.enableLock(t, 30)
	one, err := f.store.CreateSupply(context.Background(), smoking.Supply{
		UserID: f.user, TotalUnits: 20, RemainingUnits: 1, UnitPrice: decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	_, err = f.svc.Commit(context.Background(), f.user, CommitRequest{SupplyID: one.ID})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Commit(context.Background(), f.user, CommitRequest{SupplyID: one.ID, Force: true})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeSupplyExhausted), "got %v", err)
	assert.Equal(t, 0, f.violationCount(t))
}

func TestCommit_UnknownOrForeignSupply(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Commit(context.Background(), f.user, CommitRequest{SupplyID: uuid.NewString()})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound), "got %v", err)

	other := uuid.NewString()
	_, err = f.svc.Commit(context.Background(), other, CommitRequest{SupplyID: f.supply.ID})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound), "got %v", err)
	assert.Equal(t, 20, f.remaining(t))
}

func TestCommit_MissingSupplyID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Commit(context.Background(), f.user, CommitRequest{SupplyID: "  "})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest), "got %v", err)
}

func TestCommit_UnitCostAndOccurredAt(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2023, 12, 31, 22, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))

	res, err := f.svc.Commit(context.Background(), f.user, CommitRequest{SupplyID: f.supply.ID, OccurredAt: &at})
	require.NoError(t, err)
	assert.Equal(t, "1.25", res.Event.UnitCost.String())
	assert.True(t, res.Event.OccurredAt.Equal(at))
	assert.Equal(t, time.UTC, res.Event.OccurredAt.Location())

	res, err = f.commit(t, false)
	require.NoError(t, err)
	assert.True(t, res.Event.OccurredAt.Equal(t0), "defaults to now")
}

func TestCommit_StoreFailureBeforeWrite(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext(memory.OpGetIntervalConfig, errors.New("connection reset"))

	_, err := f.commit(t, false)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeStoreFailure), "got %v", err)
	assert.Equal(t, 500, svcerrors.GetServiceError(err).HTTPStatus)
	assert.Equal(t, 0, f.eventCount(t))
}

func TestCommit_DecrementFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext(memory.OpAdjustSupplyRemaining, errors.New("timeout"))

	res, err := f.commit(t, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Event.ID)
	assert.Equal(t, 1, f.eventCount(t))
	assert.Equal(t, 20, f.remaining(t), "drift is tolerated, not rolled back")
	assert.Equal(t, float64(1), f.counter(t, "smokelog_inventory_drift_total", metrics.DriftDecrement))
}

func TestCommit_ViolationAppendFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.enableLock(t, 30)
	_, err := f.commit(t, false)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.store.FailNext(memory.OpCreateViolation, errors.New("timeout"))
	res, err := f.commit(t, true)
	require.NoError(t, err)
	assert.True(t, res.IsViolation)
	assert.Nil(t, res.Violation)
	assert.Equal(t, 0, f.violationCount(t))
	assert.Equal(t, float64(1), f.counter(t, "smokelog_inventory_drift_total", metrics.DriftViolationAppend))
}

func TestDeleteEvent_RestoresInventory(t *testing.T) {
	f := newFixture(t)
	res, err := f.commit(t, false)
	require.NoError(t, err)
	require.Equal(t, 19, f.remaining(t))

	_, err = f.svc.DeleteEvent(context.Background(), f.user, res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, f.remaining(t))
	assert.Equal(t, 0, f.eventCount(t))

	_, err = f.svc.DeleteEvent(context.Background(), f.user, res.Event.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound), "got %v", err)
}

func TestDeleteEvent_KeepsViolationLedger(t *testing.T) {
	f := newFixture(t)
	f.enableLock(t, 30)
	_, err := f.commit(t, false)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)
	forced, err := f.commit(t, true)
	require.NoError(t, err)

	_, err = f.svc.DeleteEvent(context.Background(), f.user, forced.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.violationCount(t))
}

func TestDeleteEvent_ForeignEventNotFound(t *testing.T) {
	f := newFixture(t)
	res, err := f.commit(t, false)
	require.NoError(t, err)

	_, err = f.svc.DeleteEvent(context.Background(), uuid.NewString(), res.Event.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
	assert.Equal(t, 1, f.eventCount(t))
}

func TestDeleteEvent_IncrementFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	res, err := f.commit(t, false)
	require.NoError(t, err)

	f.store.FailNext(memory.OpAdjustSupplyRemaining, errors.New("timeout"))
	_, err = f.svc.DeleteEvent(context.Background(), f.user, res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, 19, f.remaining(t))
	assert.Equal(t, float64(1), f.counter(t, "smokelog_inventory_drift_total", metrics.DriftIncrement))
}

func TestUpdateSettings_Validation(t *testing.T) {
	f := newFixture(t)
	for _, m := range []int{4, 1441} {
		minutes := m
		_, err := f.svc.UpdateSettings(context.Background(), f.user, smoking.IntervalConfig{Enabled: true, IntervalMinutes: &minutes})
		assert.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest), "minutes=%d got %v", m, err)
	}
	_, err := f.svc.UpdateSettings(context.Background(), f.user, smoking.IntervalConfig{Enabled: true})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest))

	cfg, err := f.svc.UpdateSettings(context.Background(), f.user, smoking.IntervalConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
}

func TestUpdateSettings_DisabledDropsOutOfRangeInterval(t *testing.T) {
	f := newFixture(t)
	three := 3
	saved, err := f.svc.UpdateSettings(context.Background(), f.user, smoking.IntervalConfig{Enabled: false, IntervalMinutes: &three})
	require.NoError(t, err)
	assert.False(t, saved.Enabled)
	assert.Nil(t, saved.IntervalMinutes)

	stored, err := f.store.GetIntervalConfig(context.Background(), f.user)
	require.NoError(t, err)
	assert.Nil(t, stored.IntervalMinutes)

	ninety := 90
	saved, err = f.svc.UpdateSettings(context.Background(), f.user, smoking.IntervalConfig{Enabled: false, IntervalMinutes: &ninety})
	require.NoError(t, err)
	require.NotNil(t, saved.IntervalMinutes)
	assert.Equal(t, 90, *saved.IntervalMinutes)

	// A disabled lock never blocks, whatever interval it keeps.
	_, err = f.commit(t, false)
	require.NoError(t, err)
	_, err = f.commit(t, false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.violationCount(t))
}

func TestViolations_LimitClamping(t *testing.T) {
	f := newFixture(t)
	f.svc.maxViolationLimit = 3
	f.svc.violationLimit = 2
	f.enableLock(t, 60)
	_, err := f.commit(t, false)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		f.clock.Advance(time.Minute)
		_, err := f.commit(t, true)
		require.NoError(t, err)
	}

	history, err := f.svc.Violations(context.Background(), f.user, 0)
	require.NoError(t, err)
	assert.Len(t, history.Data, 2)
	assert.Equal(t, 4, history.Summary.TotalCount, "total ignores the limit")
	assert.True(t, history.Summary.LastViolationAt.Equal(f.clock.Now()))

	history, err = f.svc.Violations(context.Background(), f.user, 100)
	require.NoError(t, err)
	assert.Len(t, history.Data, 3)
}

func TestViolations_EmptyHistory(t *testing.T) {
	f := newFixture(t)
	history, err := f.svc.Violations(context.Background(), f.user, 10)
	require.NoError(t, err)
	assert.Empty(t, history.Data)
	assert.Zero(t, history.Summary.TotalCount)
	assert.Nil(t, history.Summary.LastViolationAt)
}

func TestCreateSupply(t *testing.T) {
	f := newFixture(t)
	sup, err := f.svc.CreateSupply(context.Background(), f.user, CreateSupplyRequest{TotalUnits: 10, UnitPrice: decimal.NewFromInt(12)})
	require.NoError(t, err)
	assert.Equal(t, 10, sup.RemainingUnits)

	five := 5
	sup, err = f.svc.CreateSupply(context.Background(), f.user, CreateSupplyRequest{TotalUnits: 10, RemainingUnits: &five, UnitPrice: decimal.NewFromInt(12)})
	require.NoError(t, err)
	assert.Equal(t, 5, sup.RemainingUnits)

	eleven := 11
	_, err = f.svc.CreateSupply(context.Background(), f.user, CreateSupplyRequest{TotalUnits: 10, RemainingUnits: &eleven})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest))

	_, err = f.svc.CreateSupply(context.Background(), f.user, CreateSupplyRequest{TotalUnits: 10, UnitPrice: decimal.RequireFromString("0.125")})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest), "sub-cent price got %v", err)

	list, err := f.svc.ListSupplies(context.Background(), f.user)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
