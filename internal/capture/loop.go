package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/focusmate/internal/clock"
	"github.com/thebtf/focusmate/internal/metrics"
)

// Frame is one successful capture.
type Frame struct {
	CapturedAt time.Time
	Image      image.Image
	Seq        uint64
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithClock sets the clock used to stamp frames.
func WithClock(c clock.Clock) LoopOption {
	return func(l *Loop) { l.clock = c }
}

// WithSleep replaces the inter-capture wait.
func WithSleep(fn SleepFunc) LoopOption {
	return func(l *Loop) { l.sleep = fn }
}

// WithMetrics records capture failures.
func WithMetrics(r *metrics.Recorder) LoopOption {
	return func(l *Loop) { l.metrics = r }
}

// Loop captures on an interval and keeps only the most recent frame.
// It never touches session state; consumers read frames via Latest or Subscribe.
type Loop struct {
	lastCapturedAt time.Time
	source         Source
	clock          clock.Clock
	sleep          SleepFunc
	metrics        *metrics.Recorder
	cancel         context.CancelFunc
	done           chan struct{}
	latest         *Frame
	lastErr        error
	subs           map[int]chan Frame
	interval       time.Duration
	seq            uint64
	nextSubID      int
	mu             sync.Mutex
}

// NewLoop creates a stopped loop.
func NewLoop(source Source, interval time.Duration, opts ...LoopOption) *Loop {
	l := &Loop{
		source:   source,
		interval: interval,
		clock:    clock.System{},
		sleep:    Sleep,
		subs:     make(map[int]chan Frame),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins the capture cycle. It is a no-op when already running.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go l.run(ctx, done)
	log.Debug().Dur("interval", l.interval).Msg("Capture loop started")
}

// Stop cancels the cycle and waits for it to exit. It is idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Debug().Msg("Capture loop stopped")
}

// IsCapturing reports whether the cycle is running.
func (l *Loop) IsCapturing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// SetInterval changes the wait before the next capture.
func (l *Loop) SetInterval(d time.Duration) {
	l.mu.Lock()
	l.interval = d
	l.mu.Unlock()
}

// Interval returns the current capture interval.
func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// Latest returns the most recent frame, if any.
func (l *Loop) Latest() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return Frame{}, false
	}
	return *l.latest, true
}

// LastError returns the error of the most recent failed capture, cleared by the next success.
func (l *Loop) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// LastCapturedAt returns the time of the most recent successful capture.
func (l *Loop) LastCapturedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCapturedAt
}

// Subscribe returns a single-slot channel of new frames and a cancel func.
// A slow reader only ever sees the newest frame.
func (l *Loop) Subscribe() (<-chan Frame, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSubID
	l.nextSubID++
	ch := make(chan Frame, 1)
	l.subs[id] = ch
	return ch, func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if err := l.sleep(ctx, l.Interval()); err != nil || ctx.Err() != nil {
			return
		}

		img, err := l.source.Capture(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.fail(ctx, err)
			continue
		}
		l.publish(img)
	}
}

func (l *Loop) fail(ctx context.Context, err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()

	reason := "unavailable"
	if errors.Is(err, ErrPermissionDenied) {
		reason = "permission"
	}
	l.metrics.CaptureFailed(ctx, reason)
	log.Warn().Err(err).Msg("Screen capture failed, retrying next cycle")
}

func (l *Loop) publish(img image.Image) {
	l.mu.Lock()
	l.seq++
	frame := Frame{Image: img, CapturedAt: l.clock.Now(), Seq: l.seq}
	l.latest = &frame
	l.lastErr = nil
	l.lastCapturedAt = frame.CapturedAt
	subs := make([]chan Frame, 0, len(l.subs))
	for _, ch := range l.subs {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	for _, ch := range subs {
		// Drop a stale unread frame so the newest always wins
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- frame:
		default:
		}
	}
}
