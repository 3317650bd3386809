// Package models contains domain models for focusmate.
package models

import (
	"errors"
	"time"
)

// SessionState represents the lifecycle state of a focus session.
type SessionState string

const (
	SessionStateActive    SessionState = "active"
	SessionStatePaused    SessionState = "paused"
	SessionStateCompleted SessionState = "completed"
)

// ErrInvalidTransition is returned when a session cannot move to the requested state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Session is one continuous (possibly paused) focus-timer run.
// Checks are owned by the session and kept in chronological order.
type Session struct {
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	ID        string       `json:"id"`
	Goal      string       `json:"goal,omitempty"`
	State     SessionState `json:"state"`
	Checks    []*Check     `json:"checks"`
}

// NewSession creates an active session started at now.
func NewSession(id, goal string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Goal:      goal,
		State:     SessionStateActive,
		StartedAt: now,
		Checks:    make([]*Check, 0),
	}
}

// Pause moves an active session to paused.
func (s *Session) Pause() error {
	if s.State != SessionStateActive {
		return ErrInvalidTransition
	}
	s.State = SessionStatePaused
	return nil
}

// Resume moves a paused session back to active.
func (s *Session) Resume() error {
	if s.State != SessionStatePaused {
		return ErrInvalidTransition
	}
	s.State = SessionStateActive
	return nil
}

// Complete ends the session. Completed is terminal; EndedAt is set only here.
func (s *Session) Complete(now time.Time) error {
	if s.State == SessionStateCompleted {
		return ErrInvalidTransition
	}
	s.State = SessionStateCompleted
	ended := now
	s.EndedAt = &ended
	return nil
}

// AppendCheck adds a check to the session and sets its back-reference.
func (s *Session) AppendCheck(c *Check) {
	c.SessionID = s.ID
	s.Checks = append(s.Checks, c)
}

// LastCheck returns the most recent check, or nil.
func (s *Session) LastCheck() *Check {
	if len(s.Checks) == 0 {
		return nil
	}
	return s.Checks[len(s.Checks)-1]
}

// Duration returns the wall-clock length of the session.
// For sessions that have not ended, now is used as the end.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// Clone returns a deep copy of the session, safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		cp.EndedAt = &ended
	}
	cp.Checks = make([]*Check, len(s.Checks))
	for i, c := range s.Checks {
		cp.Checks[i] = c.Clone()
	}
	return &cp
}
