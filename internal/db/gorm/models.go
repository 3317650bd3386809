package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// FocusSession is the persisted form of models.Session.
type FocusSession struct {
	ID             string `gorm:"primaryKey;type:varchar(64)"`
	Goal           string `gorm:"type:text"`
	State          string `gorm:"type:varchar(16);check:chk_focus_sessions_state,state IN ('active', 'paused', 'completed');default:'active';index;not null"`
	StartedAt      string `gorm:"not null"`
	StartedAtEpoch int64  `gorm:"index:idx_focus_sessions_started,sort:desc;not null"`
	EndedAt        sql.NullString
	EndedAtEpoch   sql.NullInt64
	UpdatedAtEpoch int64 `gorm:"not null;default:0"`
}

func (FocusSession) TableName() string { return "focus_sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *FocusSession) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if s.StartedAtEpoch == 0 {
		s.StartedAtEpoch = now.UnixMilli()
	}
	if s.StartedAt == "" {
		s.StartedAt = time.UnixMilli(s.StartedAtEpoch).UTC().Format(time.RFC3339)
	}
	if s.UpdatedAtEpoch == 0 {
		s.UpdatedAtEpoch = now.UnixMilli()
	}
	return nil
}

// FocusCheck is the persisted form of models.Check.
type FocusCheck struct {
	ID              string  `gorm:"primaryKey;type:varchar(64)"`
	SessionID       string  `gorm:"type:varchar(64);index:idx_focus_checks_session,priority:1;not null"`
	Label           string  `gorm:"type:varchar(16);check:chk_focus_checks_label,label IN ('work', 'slack');index;not null"`
	Category        string  `gorm:"type:varchar(64);index"`
	Reason          string  `gorm:"type:text"`
	Confidence      float64 `gorm:"type:real;default:0"`
	CapturedAt      string  `gorm:"not null"`
	CapturedAtEpoch int64   `gorm:"index:idx_focus_checks_session,priority:2;index:idx_focus_checks_captured;not null"`
	NudgedAtEpoch   sql.NullInt64

	Session *FocusSession `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE"`
}

func (FocusCheck) TableName() string { return "focus_checks" }

// BeforeCreate hook to ensure timestamps are set.
func (c *FocusCheck) BeforeCreate(tx *gorm.DB) error {
	if c.CapturedAtEpoch == 0 {
		c.CapturedAtEpoch = time.Now().UnixMilli()
	}
	if c.CapturedAt == "" {
		c.CapturedAt = time.UnixMilli(c.CapturedAtEpoch).UTC().Format(time.RFC3339)
	}
	return nil
}

// AppSettings is the single-row settings table.
type AppSettings struct {
	ID                  int             `gorm:"primaryKey"`
	IntervalSeconds     int             `gorm:"not null;default:180"`
	SlackNudgesEnabled  bool            `gorm:"not null"`
	Model               string          `gorm:"type:varchar(128);not null"`
	APIKey              string          `gorm:"type:text"`
	Provider            string          `gorm:"type:varchar(32);not null"`
	ActiveProfile       string          `gorm:"type:varchar(128)"`
	FocusKeywords       JSONStringArray `gorm:"type:text"`
	DistractionKeywords JSONStringArray `gorm:"type:text"`
	KeyValidated        bool            `gorm:"not null"`
	UpdatedAtEpoch      int64           `gorm:"not null;default:0"`
}

func (AppSettings) TableName() string { return "app_settings" }

// settingsRowID is the primary key of the only settings row.
const settingsRowID = 1

// DailyAggregateRow caches the per-day rollup of checks.
type DailyAggregateRow struct {
	Day                string     `gorm:"primaryKey;type:varchar(10)"` // YYYY-MM-DD in local time
	DayEpoch           int64      `gorm:"index;not null"`
	TotalChecks        int        `gorm:"not null;default:0"`
	WorkChecks         int        `gorm:"not null;default:0"`
	SlackChecks        int        `gorm:"not null;default:0"`
	LongestFocusStreak int        `gorm:"not null;default:0"`
	AvgConfidence      float64    `gorm:"type:real;default:0"`
	DistractionCounts  JSONIntMap `gorm:"type:text"`
	UpdatedAtEpoch     int64      `gorm:"not null;default:0"`
}

func (DailyAggregateRow) TableName() string { return "daily_aggregates" }
