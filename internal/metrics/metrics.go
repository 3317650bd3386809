// Package metrics records runtime counters through OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for focusmate instruments.
const MeterName = "github.com/thebtf/focusmate"

// Recorder holds the runtime instruments. A nil *Recorder is valid and records nothing.
type Recorder struct {
	checks                  metric.Int64Counter
	classificationFailures  metric.Int64Counter
	cooldownSkips           metric.Int64Counter
	nudges                  metric.Int64Counter
	captureErrors           metric.Int64Counter
	notificationsSuppressed metric.Int64Counter
	classifyDuration        metric.Float64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.checks, err = meter.Int64Counter("focusmate.checks",
		metric.WithDescription("Checks appended to sessions")); err != nil {
		return nil, fmt.Errorf("create checks counter: %w", err)
	}
	if r.classificationFailures, err = meter.Int64Counter("focusmate.classification.failures",
		metric.WithDescription("Failed classification attempts by kind")); err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	if r.cooldownSkips, err = meter.Int64Counter("focusmate.cooldown.skips",
		metric.WithDescription("Frames skipped by the distraction cooldown")); err != nil {
		return nil, fmt.Errorf("create cooldown counter: %w", err)
	}
	if r.nudges, err = meter.Int64Counter("focusmate.nudges",
		metric.WithDescription("Distraction nudges sent")); err != nil {
		return nil, fmt.Errorf("create nudges counter: %w", err)
	}
	if r.captureErrors, err = meter.Int64Counter("focusmate.capture.errors",
		metric.WithDescription("Failed screen captures")); err != nil {
		return nil, fmt.Errorf("create capture counter: %w", err)
	}
	if r.notificationsSuppressed, err = meter.Int64Counter("focusmate.notifications.suppressed",
		metric.WithDescription("Error notifications suppressed by throttling")); err != nil {
		return nil, fmt.Errorf("create suppressed counter: %w", err)
	}
	if r.classifyDuration, err = meter.Float64Histogram("focusmate.classification.duration",
		metric.WithDescription("Classifier round-trip time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return r, nil
}

// NewGlobal creates a Recorder on the global meter provider.
func NewGlobal() (*Recorder, error) {
	return New(otel.Meter(MeterName))
}

// CheckRecorded counts an appended check.
func (r *Recorder) CheckRecorded(ctx context.Context, label string) {
	if r == nil {
		return
	}
	r.checks.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
}

// ClassificationFailed counts a failed classification of the given kind.
func (r *Recorder) ClassificationFailed(ctx context.Context, kind string) {
	if r == nil {
		return
	}
	r.classificationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// CooldownSkipped counts a frame dropped by the cooldown gate.
func (r *Recorder) CooldownSkipped(ctx context.Context) {
	if r == nil {
		return
	}
	r.cooldownSkips.Add(ctx, 1)
}

// NudgeSent counts a distraction nudge.
func (r *Recorder) NudgeSent(ctx context.Context) {
	if r == nil {
		return
	}
	r.nudges.Add(ctx, 1)
}

// CaptureFailed counts a capture error.
func (r *Recorder) CaptureFailed(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.captureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// NotificationSuppressed counts a throttled error notification.
func (r *Recorder) NotificationSuppressed(ctx context.Context, key string) {
	if r == nil {
		return
	}
	r.notificationsSuppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// ClassifyDuration records one classifier round trip.
func (r *Recorder) ClassifyDuration(ctx context.Context, d time.Duration, ok bool) {
	if r == nil {
		return
	}
	r.classifyDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}
