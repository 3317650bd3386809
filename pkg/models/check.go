package models

import (
	"strings"
	"time"
)

// Label is the work/slack verdict for a single capture.
type Label string

const (
	LabelWork  Label = "work"
	LabelSlack Label = "slack"
)

// ParseLabel returns the label for s (case-insensitive).
func ParseLabel(s string) (Label, bool) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case LabelWork:
		return LabelWork, true
	case LabelSlack:
		return LabelSlack, true
	}
	return "", false
}

// Category is the activity sub-category reported by the classifier.
// The empty category means "no sub-category".
type Category string

const (
	CategorySocialMedia    Category = "Social Media"
	CategoryEntertainment  Category = "Entertainment"
	CategoryCommunication  Category = "Communication"
	CategoryShopping       Category = "Shopping"
	CategoryGaming         Category = "Gaming"
	CategoryRandomBrowsing Category = "Random Browsing"
	CategoryNews           Category = "News"
	CategoryOther          Category = "Other"

	CategoryCoding        Category = "Coding"
	CategoryDocumentation Category = "Documentation"
	CategoryDesign        Category = "Design"
	CategoryMeeting       Category = "Meeting"
	CategoryEmail         Category = "Email"
	CategoryLearning      Category = "Learning"
)

// UnknownCategory is the reporting name for slack checks without a category.
const UnknownCategory = "Unknown"

// Categories lists every known category.
var Categories = []Category{
	CategorySocialMedia,
	CategoryEntertainment,
	CategoryCommunication,
	CategoryShopping,
	CategoryGaming,
	CategoryRandomBrowsing,
	CategoryNews,
	CategoryOther,
	CategoryCoding,
	CategoryDocumentation,
	CategoryDesign,
	CategoryMeeting,
	CategoryEmail,
	CategoryLearning,
}

// ParseCategory matches s against the known categories (case-insensitive).
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// Check is one classification event tied to a single screen capture.
// Only NudgedAt may change after creation.
type Check struct {
	CapturedAt time.Time  `json:"captured_at"`
	NudgedAt   *time.Time `json:"nudged_at,omitempty"`
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Label      Label      `json:"label"`
	Category   Category   `json:"category,omitempty"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

// IsWork reports whether the check was classified as work.
func (c *Check) IsWork() bool { return c.Label == LabelWork }

// IsSlack reports whether the check was classified as slack.
func (c *Check) IsSlack() bool { return c.Label == LabelSlack }

// CategoryName returns the category for reporting, "Unknown" when missing.
func (c *Check) CategoryName() string {
	if c.Category == "" {
		return UnknownCategory
	}
	return string(c.Category)
}

// MarkNudged stamps the time a distraction nudge was sent for this check.
func (c *Check) MarkNudged(at time.Time) {
	t := at
	c.NudgedAt = &t
}

// Clone returns a copy of the check.
func (c *Check) Clone() *Check {
	if c == nil {
		return nil
	}
	cp := *c
	if c.NudgedAt != nil {
		t := *c.NudgedAt
		cp.NudgedAt = &t
	}
	return &cp
}
