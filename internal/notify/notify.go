// Package notify delivers user-facing nudges and error alerts.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/focusmate/internal/clock"
	"github.com/thebtf/focusmate/internal/metrics"
)

// Kind distinguishes nudges from error alerts.
type Kind string

const (
	KindNudge Kind = "nudge"
	KindError Kind = "error"
)

// Error dedupe keys.
const (
	KeyAPIKeyInvalid  = "api_key_invalid"
	KeyNetworkOffline = "network_offline"
)

// DefaultCooldown is the minimum gap between two error notifications with the same key.
const DefaultCooldown = 10 * time.Minute

// Notification is one message for the user.
type Notification struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Key   string `json:"key,omitempty"` // Dedupe key for error notifications
}

// Nudge returns the distraction nudge.
func Nudge() Notification {
	return Notification{
		Kind:  KindNudge,
		Title: "Focus Nudge",
		Body:  "It looks like you've drifted off. Let's get back to your goal!",
	}
}

// ErrorAlert returns an error notification deduplicated by key.
func ErrorAlert(title, body, key string) Notification {
	return Notification{Kind: KindError, Title: title, Body: body, Key: key}
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi fans a notification out to every backend and joins their errors.
type Multi []Notifier

// Notify delivers to all backends.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Throttle suppresses repeated error notifications per key within a cooldown.
// Nudges always pass through.
type Throttle struct {
	next     Notifier
	clock    clock.Clock
	metrics  *metrics.Recorder
	lastSent map[string]time.Time
	cooldown time.Duration
	mu       sync.Mutex
}

// NewThrottle wraps next. A zero cooldown uses DefaultCooldown.
func NewThrottle(next Notifier, cooldown time.Duration, clk clock.Clock, rec *metrics.Recorder) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Throttle{
		next:     next,
		clock:    clk,
		metrics:  rec,
		lastSent: make(map[string]time.Time),
		cooldown: cooldown,
	}
}

// Allow reports whether n should be delivered now and records the send time when it should.
func (t *Throttle) Allow(n Notification) bool {
	if n.Kind != KindError || n.Key == "" {
		return true
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastSent[n.Key]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.lastSent[n.Key] = now
	return true
}

// Notify delivers n unless it is throttled. Throttled notifications return nil.
func (t *Throttle) Notify(ctx context.Context, n Notification) error {
	if !t.Allow(n) {
		t.metrics.NotificationSuppressed(ctx, n.Key)
		log.Debug().Str("key", n.Key).Msg("Skipping error notification due to cooldown")
		return nil
	}
	return t.next.Notify(ctx, n)
}

// Send delivers n and logs failures instead of returning them.
func (t *Throttle) Send(ctx context.Context, n Notification) {
	if err := t.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Str("kind", string(n.Kind)).Str("title", n.Title).Msg("Notification delivery failed")
	}
}

// Reset forgets every recorded send.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.lastSent = make(map[string]time.Time)
	t.mu.Unlock()
}
