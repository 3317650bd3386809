package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/focusmate/pkg/models"
)

// SessionReader loads sessions started in [from, to).
type SessionReader interface {
	FetchRange(ctx context.Context, from, to time.Time) ([]*models.Session, error)
}

// AggregateWriter stores daily rollups.
type AggregateWriter interface {
	Upsert(ctx context.Context, agg models.DailyAggregate) error
}

// BuildDailyAggregate rolls up the checks captured on day. It reports false when there are none.
func BuildDailyAggregate(day time.Time, sessions []*models.Session) (models.DailyAggregate, bool) {
	start := models.StartOfDay(day)
	end := start.AddDate(0, 0, 1)

	var onDay []*models.Check
	for _, c := range AllChecks(sessions) {
		t := c.CapturedAt.In(start.Location())
		if !t.Before(start) && t.Before(end) {
			onDay = append(onDay, c)
		}
	}
	if len(onDay) == 0 {
		return models.DailyAggregate{}, false
	}

	agg := models.DailyAggregate{
		Day:               start,
		TotalChecks:       len(onDay),
		DistractionCounts: make(map[string]int),
	}
	var confidence float64
	for _, c := range onDay {
		confidence += c.Confidence
		switch {
		case c.IsWork():
			agg.WorkChecks++
		case c.IsSlack():
			agg.SlackChecks++
			agg.DistractionCounts[c.CategoryName()]++
		}
	}
	agg.AvgConfidence = confidence / float64(len(onDay))
	agg.LongestFocusStreak = int(longestStreakSpan(onDay) / time.Minute)
	return agg, true
}

// RebuildAggregates recomputes and upserts the rollup for every day in [from, to).
// Days without checks are skipped. It returns the number of days written.
func RebuildAggregates(ctx context.Context, sessions SessionReader, aggs AggregateWriter, from, to time.Time) (int, error) {
	from = models.StartOfDay(from)
	// Sessions that started the day before can carry checks past midnight
	loaded, err := sessions.FetchRange(ctx, from.AddDate(0, 0, -1), to)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}

	written := 0
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		agg, ok := BuildDailyAggregate(day, loaded)
		if !ok {
			continue
		}
		if err := aggs.Upsert(ctx, agg); err != nil {
			return written, fmt.Errorf("upsert %s: %w", day.Format("2006-01-02"), err)
		}
		written++
	}

	log.Info().
		Time("from", from).
		Time("to", to).
		Int("days", written).
		Msg("Daily aggregates rebuilt")
	return written, nil
}
