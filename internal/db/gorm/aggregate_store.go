package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/focusmate/pkg/models"
)

const dayLayout = "2006-01-02"

// AggregateStore persists the daily rollup cache.
type AggregateStore struct {
	db *gorm.DB
}

// NewAggregateStore creates a new aggregate store.
func NewAggregateStore(store *Store) *AggregateStore {
	return &AggregateStore{db: store.DB}
}

// Upsert writes the aggregate for its normalized day, replacing any previous value.
func (s *AggregateStore) Upsert(ctx context.Context, agg models.DailyAggregate) error {
	day := models.StartOfDay(agg.Day)
	counts := JSONIntMap(agg.DistractionCounts)
	if counts == nil {
		counts = JSONIntMap{}
	}
	row := &DailyAggregateRow{
		Day:                day.Format(dayLayout),
		DayEpoch:           day.UnixMilli(),
		TotalChecks:        agg.TotalChecks,
		WorkChecks:         agg.WorkChecks,
		SlackChecks:        agg.SlackChecks,
		LongestFocusStreak: agg.LongestFocusStreak,
		AvgConfidence:      agg.AvgConfidence,
		DistractionCounts:  counts,
		UpdatedAtEpoch:     time.Now().UnixMilli(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert aggregate %s: %w", row.Day, err)
	}
	return nil
}

// List returns aggregates for days in [from, to), oldest first.
func (s *AggregateStore) List(ctx context.Context, from, to time.Time) ([]models.DailyAggregate, error) {
	var rows []DailyAggregateRow
	err := s.db.WithContext(ctx).
		Where("day_epoch >= ? AND day_epoch < ?", models.StartOfDay(from).UnixMilli(), to.UnixMilli()).
		Order("day_epoch ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}

	out := make([]models.DailyAggregate, 0, len(rows))
	for i := range rows {
		out = append(out, fromAggregateRow(&rows[i]))
	}
	return out, nil
}

// DeleteAll clears the cache.
func (s *AggregateStore) DeleteAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&DailyAggregateRow{}).Error
	if err != nil {
		return fmt.Errorf("delete aggregates: %w", err)
	}
	return nil
}

func fromAggregateRow(row *DailyAggregateRow) models.DailyAggregate {
	day := epochToTime(row.DayEpoch)
	if parsed, err := time.ParseInLocation(dayLayout, row.Day, time.Local); err == nil {
		day = parsed
	}
	counts := map[string]int(row.DistractionCounts)
	if counts == nil {
		counts = map[string]int{}
	}
	return models.DailyAggregate{
		Day:                day,
		TotalChecks:        row.TotalChecks,
		WorkChecks:         row.WorkChecks,
		SlackChecks:        row.SlackChecks,
		LongestFocusStreak: row.LongestFocusStreak,
		AvgConfidence:      row.AvgConfidence,
		DistractionCounts:  counts,
	}
}
