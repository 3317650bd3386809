package analytics

import (
	"time"

	"github.com/thebtf/focusmate/pkg/models"
)

// Summary is the analytics report over a set of sessions.
type Summary struct {
	PeakHours              map[int]float64    `json:"peak_hours"`
	DropOff                map[int]int        `json:"drop_off"`
	BestHour               *int               `json:"best_hour,omitempty"`
	TopDistractions        []DistractionCount `json:"top_distractions"`
	Sessions               int                `json:"sessions"`
	TotalChecks            int                `json:"total_checks"`
	WorkChecks             int                `json:"work_checks"`
	SlackChecks            int                `json:"slack_checks"`
	LongestStreak          int                `json:"longest_streak"`
	FocusScore             float64            `json:"focus_score"`
	AverageRecoverySeconds float64            `json:"average_recovery_seconds"`
}

// BuildSummary computes every metric for sessions.
func BuildSummary(sessions []*models.Session, distractionLimit int) Summary {
	checks := AllChecks(sessions)
	s := Summary{
		Sessions:               len(sessions),
		TotalChecks:            len(checks),
		FocusScore:             FocusScore(checks),
		PeakHours:              PeakHours(sessions),
		TopDistractions:        TopDistractions(sessions, distractionLimit),
		AverageRecoverySeconds: AverageRecoveryTime(sessions).Seconds(),
		DropOff:                DropOffBuckets(sessions),
	}
	for _, c := range checks {
		if c.IsWork() {
			s.WorkChecks++
		} else if c.IsSlack() {
			s.SlackChecks++
		}
	}
	for _, sess := range sessions {
		if n := LongestStreak(sess.Checks); n > s.LongestStreak {
			s.LongestStreak = n
		}
	}
	if h, ok := BestHour(s.PeakHours); ok {
		s.BestHour = &h
	}
	return s
}

// AverageRecovery returns the recovery time as a duration.
func (s Summary) AverageRecovery() time.Duration {
	return time.Duration(s.AverageRecoverySeconds * float64(time.Second))
}
