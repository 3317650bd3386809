package capture

import (
	"context"
	"errors"
	"image"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/focusmate/internal/clock"
)

// stepper releases one capture per Step call.
type stepper struct {
	ticks chan struct{}
	slept atomic.Int32
}

func newStepper() *stepper {
	return &stepper{ticks: make(chan struct{})}
}

func (s *stepper) sleep(ctx context.Context, _ time.Duration) error {
	s.slept.Add(1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticks:
		return nil
	}
}

func (s *stepper) Step(t *testing.T) {
	select {
	case s.ticks <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never waited for the next tick")
	}
}

// scriptedSource returns queued results in order, then repeats the last one.
type scriptedSource struct {
	errs  []error
	calls atomic.Int32
	mu    sync.Mutex
}

func (s *scriptedSource) Capture(context.Context) (image.Image, error) {
	n := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

type LoopSuite struct {
	suite.Suite
	step   *stepper
	source *scriptedSource
	clock  *clock.Fake
	loop   *Loop
}

func (s *LoopSuite) SetupTest() {
	s.step = newStepper()
	s.source = &scriptedSource{}
	s.clock = clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	s.loop = NewLoop(s.source, time.Minute, WithSleep(s.step.sleep), WithClock(s.clock))
}

func (s *LoopSuite) TearDownTest() {
	s.loop.Stop()
}

func TestLoopSuite(t *testing.T) {
	suite.Run(t, new(LoopSuite))
}

func (s *LoopSuite) receive(ch <-chan Frame) Frame {
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		s.FailNow("no frame published")
	}
	return Frame{}
}

func (s *LoopSuite) TestPublishesFrames() {
	frames, unsubscribe := s.loop.Subscribe()
	defer unsubscribe()

	s.loop.Start()
	s.True(s.loop.IsCapturing())

	s.step.Step(s.T())
	f := s.receive(frames)
	s.Equal(uint64(1), f.Seq)
	s.Equal(s.clock.Now(), f.CapturedAt)

	latest, ok := s.loop.Latest()
	s.True(ok)
	s.Equal(uint64(1), latest.Seq)
	s.Equal(s.clock.Now(), s.loop.LastCapturedAt())
}

func (s *LoopSuite) TestStartIsIdempotent() {
	s.loop.Start()
	s.loop.Start()

	s.step.Step(s.T())
	s.Eventually(func() bool { return s.source.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// A second goroutine would also be waiting for a tick
	s.Eventually(func() bool { return s.step.slept.Load() == 2 }, time.Second, 5*time.Millisecond)
	s.Never(func() bool { return s.step.slept.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *LoopSuite) TestErrorsAreNonFatal() {
	s.source.errs = []error{ErrCaptureUnavailable}
	frames, unsubscribe := s.loop.Subscribe()
	defer unsubscribe()

	s.loop.Start()
	s.step.Step(s.T())
	s.Eventually(func() bool { return errors.Is(s.loop.LastError(), ErrCaptureUnavailable) }, time.Second, 5*time.Millisecond)
	_, ok := s.loop.Latest()
	s.False(ok)

	s.step.Step(s.T())
	f := s.receive(frames)
	s.Equal(uint64(1), f.Seq)
	s.NoError(s.loop.LastError())
	s.True(s.loop.IsCapturing())
}

func (s *LoopSuite) TestLatestWins() {
	frames, unsubscribe := s.loop.Subscribe()
	defer unsubscribe()

	s.loop.Start()
	s.step.Step(s.T())
	s.step.Step(s.T())
	s.Eventually(func() bool {
		f, ok := s.loop.Latest()
		return ok && f.Seq == 2
	}, time.Second, 5*time.Millisecond)

	f := s.receive(frames)
	s.Equal(uint64(2), f.Seq)
	select {
	case extra := <-frames:
		s.Failf("stale frame delivered", "seq %d", extra.Seq)
	default:
	}
}

func (s *LoopSuite) TestStopIsPromptAndIdempotent() {
	s.loop.Start()
	s.Eventually(func() bool { return s.step.slept.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.loop.Stop()
		s.loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("stop did not cancel the pending sleep")
	}
	s.False(s.loop.IsCapturing())
	s.Zero(s.source.calls.Load())

	// Restart after stop works
	s.loop.Start()
	s.True(s.loop.IsCapturing())
}

func (s *LoopSuite) TestSetInterval() {
	s.loop.SetInterval(5 * time.Second)
	s.Equal(5*time.Second, s.loop.Interval())
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestCommandSource_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewCommandSource("focusmate-no-such-binary").Capture(ctx)
	assert.ErrorIs(t, err, ErrCaptureUnavailable)

	if _, lookErr := exec.LookPath("false"); lookErr == nil {
		_, err = NewCommandSource("false").Capture(ctx)
		assert.ErrorIs(t, err, ErrCaptureUnavailable)
	}

	if _, lookErr := exec.LookPath("touch"); lookErr == nil {
		src := &CommandSource{Command: "touch", Args: []string{"--"}, TempDir: t.TempDir()}
		_, err = src.Capture(ctx)
		require.ErrorIs(t, err, ErrPermissionDenied)
		assert.False(t, src.Granted(ctx))
	}
}

func TestAlwaysGranted(t *testing.T) {
	assert.True(t, AlwaysGranted{}.Granted(context.Background()))
}
