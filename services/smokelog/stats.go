package smokelog

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emberlog/service_layer/internal/domain/smoking"
	svcerrors "github.com/emberlog/service_layer/internal/errors"
	"github.com/emberlog/service_layer/internal/storage"
)

// Summary window bounds in civil days.
const (
	DefaultSummaryDays = 7
	MaxSummaryDays     = 90
)

// Leaderboard bounds.
const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// Leaderboard periods.
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// PeriodStats totals events and spend over a civil period.
type PeriodStats struct {
	Count int             `json:"count"`
	Spend decimal.Decimal `json:"spend"`
}

func (p *PeriodStats) add(ev smoking.Event) {
	p.Count++
	p.Spend = p.Spend.Add(ev.UnitCost)
}

// DailyPoint is one civil day of the series.
type DailyPoint struct {
	Date  string          `json:"date"`
	Count int             `json:"count"`
	Spend decimal.Decimal `json:"spend"`
}

// Summary aggregates a user's events on the civil calendar.
type Summary struct {
	Today          PeriodStats  `json:"today"`
	Week           PeriodStats  `json:"week"`
	Month          PeriodStats  `json:"month"`
	Daily          []DailyPoint `json:"daily"`
	Hourly         [24]int      `json:"hourly"`
	WeekViolations int          `json:"week_violations"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// Summary computes today/week/month totals, a zero-filled daily series of the
// last days civil days, and an hour-of-day histogram over that series.
func (s *Service) Summary(ctx context.Context, userID string, days int) (*Summary, error) {
	if days == 0 {
		days = DefaultSummaryDays
	}
	if days < 1 || days > MaxSummaryDays {
		return nil, svcerrors.BadRequest("days must be between 1 and 90")
	}

	now := s.now()
	dayStart := s.cal.StartOfDay(now)
	weekStart := s.cal.StartOfWeek(now)
	monthStart := s.cal.StartOfMonth(now)
	seriesStart := s.cal.DaysAgo(now, days-1)

	from := seriesStart
	for _, t := range []time.Time{weekStart, monthStart} {
		if t.Before(from) {
			from = t
		}
	}
	// Events dated past the current civil day are left out of every bucket.
	events, err := s.store.ListEvents(ctx, storage.EventFilter{UserID: userID, From: from, To: s.cal.DaysAgo(now, -1)})
	if err != nil {
		return nil, svcerrors.StoreFailure("list_events", err)
	}

	out := &Summary{
		Today:       PeriodStats{Spend: decimal.Zero},
		Week:        PeriodStats{Spend: decimal.Zero},
		Month:       PeriodStats{Spend: decimal.Zero},
		Daily:       make([]DailyPoint, days),
		GeneratedAt: now,
	}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		key := s.cal.DateKey(s.cal.DaysAgo(now, days-1-i))
		out.Daily[i] = DailyPoint{Date: key, Spend: decimal.Zero}
		index[key] = i
	}

	for _, ev := range events {
		at := ev.OccurredAt
		if !at.Before(dayStart) {
			out.Today.add(ev)
		}
		if !at.Before(weekStart) {
			out.Week.add(ev)
			if ev.IsViolation {
				out.WeekViolations++
			}
		}
		if !at.Before(monthStart) {
			out.Month.add(ev)
		}
		if !at.Before(seriesStart) {
			if i, ok := index[s.cal.DateKey(at)]; ok {
				out.Daily[i].Count++
				out.Daily[i].Spend = out.Daily[i].Spend.Add(ev.UnitCost)
			}
			out.Hourly[s.cal.Hour(at)]++
		}
	}
	return out, nil
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// Leaderboard ranks users by events since the start of the civil period,
// most first, ties broken by user id.
func (s *Service) Leaderboard(ctx context.Context, period string, limit int) ([]LeaderboardEntry, error) {
	now := s.now()
	var from time.Time
	switch period {
	case PeriodDay:
		from = s.cal.StartOfDay(now)
	case "", PeriodWeek:
		from = s.cal.StartOfWeek(now)
	case PeriodMonth:
		from = s.cal.StartOfMonth(now)
	default:
		return nil, svcerrors.BadRequest("period must be one of day, week, month")
	}
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	events, err := s.store.ListEvents(ctx, storage.EventFilter{From: from, To: s.cal.DaysAgo(now, -1)})
	if err != nil {
		return nil, svcerrors.StoreFailure("list_events", err)
	}

	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.UserID]++
	}
	entries := make([]LeaderboardEntry, 0, len(counts))
	for user, n := range counts {
		entries = append(entries, LeaderboardEntry{UserID: user, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].UserID < entries[j].UserID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
