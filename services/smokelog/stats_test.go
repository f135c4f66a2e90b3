package smokelog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlog/service_layer/internal/domain/smoking"
	svcerrors "github.com/emberlog/service_layer/internal/errors"
)

func (f *fixture) seed(t *testing.T, userID string, at time.Time, violation bool) {
	t.Helper()
	_, err := f.store.CreateEvent(context.Background(), smoking.Event{
		UserID:      userID,
		OccurredAt:  at,
		UnitCost:    decimal.RequireFromString("1.25"),
		IsViolation: violation,
	})
	require.NoError(t, err)
}

func TestSummary_CivilBoundaries(t *testing.T) {
	f := newFixture(t)
	// Thursday 2024-01-04 00:30 at UTC+8.
	f.clock.Set(time.Date(2024, 1, 3, 16, 30, 0, 0, time.UTC))

	f.seed(t, f.user, time.Date(2023, 12, 31, 15, 30, 0, 0, time.UTC), false) // Sun 12-31 23:30
	f.seed(t, f.user, time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC), true)     // Tue 01-02 00:00
	f.seed(t, f.user, time.Date(2024, 1, 3, 15, 59, 0, 0, time.UTC), false)   // Wed 01-03 23:59
	f.seed(t, f.user, time.Date(2024, 1, 3, 16, 0, 0, 0, time.UTC), false)    // Thu 01-04 00:00
	f.seed(t, "someone-else", time.Date(2024, 1, 3, 16, 10, 0, 0, time.UTC), false)

	sum, err := f.svc.Summary(context.Background(), f.user, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Today.Count)
	assert.Equal(t, 3, sum.Week.Count)
	assert.Equal(t, 3, sum.Month.Count)
	assert.Equal(t, "3.75", sum.Week.Spend.String())
	assert.Equal(t, 1, sum.WeekViolations)

	require.Len(t, sum.Daily, DefaultSummaryDays)
	assert.Equal(t, "2023-12-29", sum.Daily[0].Date)
	assert.Equal(t, "2024-01-04", sum.Daily[6].Date)
	counts := make(map[string]int)
	for _, p := range sum.Daily {
		counts[p.Date] = p.Count
	}
	assert.Equal(t, map[string]int{
		"2023-12-29": 0, "2023-12-30": 0, "2023-12-31": 1,
		"2024-01-01": 0, "2024-01-02": 1, "2024-01-03": 1, "2024-01-04": 1,
	}, counts)

	assert.Equal(t, 2, sum.Hourly[0])
	assert.Equal(t, 2, sum.Hourly[23])
}

func TestSummary_IgnoresFutureDatedEvents(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.seed(t, f.user, now, false)
	f.seed(t, f.user, now.Add(72*time.Hour), false)

	sum, err := f.svc.Summary(context.Background(), f.user, 0)
	require.NoError(t, err)

	dailyTotal := 0
	for _, p := range sum.Daily {
		dailyTotal += p.Count
	}
	hourlyTotal := 0
	for _, n := range sum.Hourly {
		hourlyTotal += n
	}
	assert.Equal(t, 1, sum.Today.Count)
	assert.Equal(t, 1, sum.Week.Count)
	assert.Equal(t, 1, sum.Month.Count)
	assert.Equal(t, 1, dailyTotal)
	assert.Equal(t, 1, hourlyTotal)

	entries, err := f.svc.Leaderboard(context.Background(), PeriodDay, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Count)
}

func TestSummary_DaysBounds(t *testing.T) {
	f := newFixture(t)
	for _, days := range []int{-1, MaxSummaryDays + 1} {
		_, err := f.svc.Summary(context.Background(), f.user, days)
		assert.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest), "days=%d", days)
	}
	sum, err := f.svc.Summary(context.Background(), f.user, MaxSummaryDays)
	require.NoError(t, err)
	assert.Len(t, sum.Daily, MaxSummaryDays)
	assert.True(t, sum.Today.Spend.IsZero())
}

func TestLeaderboard_RanksAndTies(t *testing.T) {
	f := newFixture(t)
	// Wednesday 2024-01-03 12:00 at UTC+8; the civil week opened 2023-12-31 16:00 UTC.
	f.clock.Set(time.Date(2024, 1, 3, 4, 0, 0, 0, time.UTC))
	const (
		alice = "aaaaaaaa-0000-4000-8000-000000000001"
		bob   = "bbbbbbbb-0000-4000-8000-000000000002"
		carol = "cccccccc-0000-4000-8000-000000000003"
	)
	inWeek := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f.seed(t, bob, inWeek, false)
	f.seed(t, bob, inWeek.Add(time.Hour), false)
	f.seed(t, alice, inWeek, false)
	f.seed(t, alice, inWeek.Add(time.Hour), false)
	f.seed(t, carol, inWeek, false)
	f.seed(t, carol, time.Date(2023, 12, 31, 15, 59, 0, 0, time.UTC), false)

	entries, err := f.svc.Leaderboard(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, LeaderboardEntry{Rank: 1, UserID: alice, Count: 2}, entries[0])
	assert.Equal(t, LeaderboardEntry{Rank: 2, UserID: bob, Count: 2}, entries[1])
	assert.Equal(t, LeaderboardEntry{Rank: 3, UserID: carol, Count: 1}, entries[2])

	entries, err = f.svc.Leaderboard(context.Background(), PeriodWeek, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, alice, entries[0].UserID)

	entries, err = f.svc.Leaderboard(context.Background(), PeriodMonth, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, entries[2].Count, "carol's Dec 31 event is outside January")

	entries, err = f.svc.Leaderboard(context.Background(), PeriodDay, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = f.svc.Leaderboard(context.Background(), "year", 0)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest))
}
