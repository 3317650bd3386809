// Package analytics derives focus metrics from stored sessions. Functions here never mutate their input.
package analytics

import (
	"sort"
	"time"

	"github.com/thebtf/focusmate/pkg/models"
)

// Thresholds.
const (
	PeakHourMinSamples  = 5 // An hour needs more than this many checks to be scored
	RecoveryMin         = 30 * time.Second
	RecoveryMax         = time.Hour
	DropOffBucketMinute = 5
)

// DistractionCount is a category with its slack-check count.
type DistractionCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// FocusScore returns work/total, 0 for no checks.
func FocusScore(checks []*models.Check) float64 {
	if len(checks) == 0 {
		return 0
	}
	work := 0
	for _, c := range checks {
		if c.IsWork() {
			work++
		}
	}
	return float64(work) / float64(len(checks))
}

// AllChecks flattens the checks of sessions.
func AllChecks(sessions []*models.Session) []*models.Check {
	var out []*models.Check
	for _, s := range sessions {
		out = append(out, s.Checks...)
	}
	return out
}

// SummarizeSession returns the focus score and wall-clock duration of a session.
// Sessions that have not ended report zero duration.
func SummarizeSession(s *models.Session) (float64, time.Duration) {
	score := FocusScore(s.Checks)
	if s.EndedAt == nil {
		return score, 0
	}
	return score, s.Duration(*s.EndedAt)
}

// PeakHours scores each hour of day (0-23) by work ratio.
// Hours with PeakHourMinSamples or fewer checks are omitted.
func PeakHours(sessions []*models.Session) map[int]float64 {
	var work, total [24]int
	for _, s := range sessions {
		for _, c := range s.Checks {
			h := c.CapturedAt.Hour()
			total[h]++
			if c.IsWork() {
				work[h]++
			}
		}
	}

	scores := make(map[int]float64)
	for h := 0; h < 24; h++ {
		if total[h] > PeakHourMinSamples {
			scores[h] = float64(work[h]) / float64(total[h])
		}
	}
	return scores
}

// BestHour returns the highest-scoring hour, earliest on ties.
func BestHour(scores map[int]float64) (int, bool) {
	best, found := -1, false
	for h := 0; h < 24; h++ {
		score, ok := scores[h]
		if !ok {
			continue
		}
		if !found || score > scores[best] {
			best, found = h, true
		}
	}
	return best, found
}

// TopDistractions counts slack checks by category, most frequent first.
// Ties keep first-encountered order; missing categories count as "Unknown".
func TopDistractions(sessions []*models.Session, limit int) []DistractionCount {
	var counts []DistractionCount
	index := make(map[string]int)
	for _, s := range sessions {
		for _, c := range s.Checks {
			if !c.IsSlack() {
				continue
			}
			name := c.CategoryName()
			i, ok := index[name]
			if !ok {
				i = len(counts)
				index[name] = i
				counts = append(counts, DistractionCount{Category: name})
			}
			counts[i].Count++
		}
	}

	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if limit >= 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	if counts == nil {
		counts = []DistractionCount{}
	}
	return counts
}

// AverageRecoveryTime is the mean time from entering a slack run to the next work check.
// Only recoveries strictly between RecoveryMin and RecoveryMax count.
func AverageRecoveryTime(sessions []*models.Session) time.Duration {
	var sum time.Duration
	n := 0
	for _, s := range sessions {
		var slackStart *time.Time
		for _, c := range sortedChecks(s.Checks) {
			switch {
			case c.IsSlack():
				if slackStart == nil {
					t := c.CapturedAt
					slackStart = &t
				}
			case c.IsWork():
				if slackStart == nil {
					continue
				}
				d := c.CapturedAt.Sub(*slackStart)
				if d > RecoveryMin && d < RecoveryMax {
					sum += d
					n++
				}
				slackStart = nil
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// DropOffBuckets histograms when focus first breaks after work began.
// Keys are bucket start minutes since session start; buckets under 5 minutes are dropped.
func DropOffBuckets(sessions []*models.Session) map[int]int {
	buckets := make(map[int]int)
	for _, s := range sessions {
		checks := sortedChecks(s.Checks)
		first := -1
		for i, c := range checks {
			if c.IsWork() {
				first = i
				break
			}
		}
		if first < 0 {
			continue
		}
		for _, c := range checks[first:] {
			if !c.IsSlack() {
				continue
			}
			minute := int(c.CapturedAt.Sub(s.StartedAt) / time.Minute)
			bucket := (minute / DropOffBucketMinute) * DropOffBucketMinute
			if bucket >= DropOffBucketMinute {
				buckets[bucket]++
			}
			break
		}
	}
	return buckets
}

// LongestStreak returns the longest run of consecutive work checks in chronological order.
func LongestStreak(checks []*models.Check) int {
	longest, current := 0, 0
	for _, c := range sortedChecks(checks) {
		if c.IsWork() {
			current++
			if current > longest {
				longest = current
			}
			continue
		}
		current = 0
	}
	return longest
}

// longestStreakSpan returns the wall-clock span of the longest consecutive work run.
func longestStreakSpan(checks []*models.Check) time.Duration {
	var longest time.Duration
	var runStart *time.Time
	for _, c := range sortedChecks(checks) {
		if !c.IsWork() {
			runStart = nil
			continue
		}
		if runStart == nil {
			t := c.CapturedAt
			runStart = &t
		}
		if d := c.CapturedAt.Sub(*runStart); d > longest {
			longest = d
		}
	}
	return longest
}

// sortedChecks returns a chronologically sorted copy.
func sortedChecks(checks []*models.Check) []*models.Check {
	out := make([]*models.Check, len(checks))
	copy(out, checks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out
}
