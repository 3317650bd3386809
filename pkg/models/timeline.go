package models

import "time"

// BlockType classifies a timeline block.
type BlockType string

const (
	BlockWork        BlockType = "work"
	BlockDistraction BlockType = "distraction"
	BlockGap         BlockType = "gap"
)

// BlockTypeFor maps a check label to its timeline block type.
func BlockTypeFor(l Label) BlockType {
	if l == LabelWork {
		return BlockWork
	}
	return BlockDistraction
}

// TimelineBlock is a coalesced run of consecutive same-type checks. Derived, never stored.
type TimelineBlock struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Type     BlockType     `json:"type"`
	Label    string        `json:"label"`
	Category Category      `json:"category,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DailyAggregate is a per-day rollup of checks. It is a rebuildable cache of raw checks.
type DailyAggregate struct {
	Day                time.Time      `json:"day"`
	DistractionCounts  map[string]int `json:"distraction_counts"`
	TotalChecks        int            `json:"total_checks"`
	WorkChecks         int            `json:"work_checks"`
	SlackChecks        int            `json:"slack_checks"`
	LongestFocusStreak int            `json:"longest_focus_streak"`
	AvgConfidence      float64        `json:"avg_confidence"`
}

// FocusScore returns work/total for the day, 0 when empty.
func (a DailyAggregate) FocusScore() float64 {
	if a.TotalChecks == 0 {
		return 0
	}
	return float64(a.WorkChecks) / float64(a.TotalChecks)
}

// StartOfDay normalizes t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
