package session

import (
	"time"

	"github.com/thebtf/focusmate/pkg/models"
)

// State is the runtime's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Alert is a blocking condition surfaced to the user when Start is refused.
type Alert string

const (
	AlertNone       Alert = ""
	AlertPermission Alert = "permission_required"
	AlertAPIKey     Alert = "api_key_missing"
)

// Snapshot is a point-in-time copy of the runtime state, safe to hand to other goroutines.
type Snapshot struct {
	NextCheckAt *time.Time      `json:"next_check_at,omitempty"`
	Session     *models.Session `json:"session,omitempty"`
	LastCheck   *models.Check   `json:"last_check,omitempty"`
	State       State           `json:"state"`
	Alert       Alert           `json:"alert,omitempty"`
	Elapsed     time.Duration   `json:"elapsed"`
	Streak      int             `json:"streak"`
	Processing  bool            `json:"processing"`
	Capturing   bool            `json:"capturing"`
}

// InCooldown reports whether captures at t are skipped.
func (s Snapshot) InCooldown(t time.Time) bool {
	return s.NextCheckAt != nil && t.Before(*s.NextCheckAt)
}

// EventType names a runtime event.
type EventType string

const (
	EventStateChanged         EventType = "state_changed"
	EventCheckAdded           EventType = "check_added"
	EventTick                 EventType = "tick"
	EventAlert                EventType = "alert"
	EventClassificationFailed EventType = "classification_failed"
)

// Event is published to subscribers on every observable runtime change.
type Event struct {
	Check    *models.Check `json:"check,omitempty"`
	Type     EventType     `json:"type"`
	Error    string        `json:"error,omitempty"`
	Snapshot Snapshot      `json:"snapshot"`
}
