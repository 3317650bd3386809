// Package activity keeps a bounded, in-memory log of user-visible application events.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the severity of an entry.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Source identifies the subsystem that produced an entry.
type Source string

const (
	SourceClassifier Source = "classifier"
	SourceSession    Source = "session"
	SourceSystem     Source = "system"
)

// DefaultMaxEntries bounds memory use.
const DefaultMaxEntries = 100

// Entry is a single activity log record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Source    Source    `json:"source"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// Log is a newest-first ring of entries. Every entry is mirrored to zerolog.
type Log struct {
	entries []Entry
	max     int
	mu      sync.RWMutex
}

// New creates a Log holding at most max entries.
func New(max int) *Log {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Log{
		entries: make([]Entry, 0, max),
		max:     max,
	}
}

// Add records an entry.
func (l *Log) Add(level Level, source Source, message, details string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
		Details:   details,
	}

	evt := log.WithLevel(zerologLevel(level)).Str("source", string(source))
	if details != "" {
		evt = evt.Str("details", details)
	}
	evt.Msg(message)

	if l == nil {
		return entry
	}

	l.mu.Lock()
	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > l.max {
		l.entries = l.entries[:l.max]
	}
	l.mu.Unlock()

	return entry
}

// Info records an info entry.
func (l *Log) Info(source Source, message, details string) {
	l.Add(LevelInfo, source, message, details)
}

// Warn records a warning entry.
func (l *Log) Warn(source Source, message, details string) {
	l.Add(LevelWarning, source, message, details)
}

// Error records an error entry.
func (l *Log) Error(source Source, message, details string) {
	l.Add(LevelError, source, message, details)
}

// Entries returns a copy of the entries, newest first.
func (l *Log) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear removes all entries.
func (l *Log) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
