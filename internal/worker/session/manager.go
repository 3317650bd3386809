// Package session runs the focus-session state machine: it owns the current session,
// consumes capture frames, classifies them and applies the distraction cooldown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/focusmate/internal/activity"
	"github.com/thebtf/focusmate/internal/capture"
	"github.com/thebtf/focusmate/internal/classify"
	"github.com/thebtf/focusmate/internal/clock"
	"github.com/thebtf/focusmate/internal/imaging"
	"github.com/thebtf/focusmate/internal/metrics"
	"github.com/thebtf/focusmate/internal/notify"
	"github.com/thebtf/focusmate/internal/privacy"
	"github.com/thebtf/focusmate/internal/profiles"
	"github.com/thebtf/focusmate/pkg/models"
)

var (
	// ErrPermissionRequired is returned by Start when screen capture is not permitted.
	ErrPermissionRequired = errors.New("screen recording permission required")
	// ErrAPIKeyMissing is returned by Start when no API key is configured.
	ErrAPIKeyMissing = errors.New("API key missing")
	// ErrNoSession is returned when an operation needs a current session.
	ErrNoSession = errors.New("no current session")
	// ErrInvalidTransition is returned when the requested transition is not allowed from the current state.
	ErrInvalidTransition = models.ErrInvalidTransition
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session manager closed")
)

// DefaultTickInterval is the elapsed-time resolution.
const DefaultTickInterval = time.Second

// eventBuffer is the per-subscriber channel capacity.
const eventBuffer = 32

// Store persists sessions and checks. *gorm.SessionStore satisfies it.
type Store interface {
	Insert(ctx context.Context, sess *models.Session) error
	Save(ctx context.Context, sess *models.Session) error
	AppendCheck(ctx context.Context, c *models.Check) error
}

// SettingsProvider returns the current user settings. *gorm.SettingsStore satisfies it.
type SettingsProvider interface {
	Get(ctx context.Context) (models.Settings, error)
}

// FrameSource is the capture loop as seen by the runtime. *capture.Loop satisfies it.
type FrameSource interface {
	Start()
	Stop()
	SetInterval(d time.Duration)
	IsCapturing() bool
	Subscribe() (<-chan capture.Frame, func())
}

// Sender delivers notifications without reporting failures. *notify.Throttle satisfies it.
type Sender interface {
	Send(ctx context.Context, n notify.Notification)
}

// Config holds the Manager's collaborators. Store, Settings, Frames and Classifier are required.
type Config struct {
	Store        Store
	Settings     SettingsProvider
	Frames       FrameSource
	Permission   capture.PermissionChecker
	Classifier   classify.Classifier
	Notifier     Sender
	Clock        clock.Clock
	Cooldown     CooldownPolicy
	Metrics      *metrics.Recorder
	Activity     *activity.Log
	Profiles     *profiles.Registry
	NewID        func() string
	Imaging      imaging.Options
	TickInterval time.Duration
}

// Manager owns the current focus session. Only the Manager mutates it.
type Manager struct {
	nextCheckAt time.Time
	cfg         Config
	ctx         context.Context
	cancel      context.CancelFunc
	current     *models.Session
	lastCheck   *models.Check
	runCancel   context.CancelFunc
	subs        map[int]chan Event
	settings    models.Settings
	wg          sync.WaitGroup
	elapsed     time.Duration
	epoch       uint64
	streak      int
	slackRun    int
	nextSubID   int
	alert       Alert
	inFlight    atomic.Bool
	closed      bool
	mu          sync.Mutex
	subMu       sync.Mutex
}

// NewManager creates an idle Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Permission == nil {
		cfg.Permission = capture.AlwaysGranted{}
	}
	if cfg.Cooldown == nil {
		cfg.Cooldown = FixedCooldown{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewThrottle(notify.LogNotifier{}, 0, cfg.Clock, cfg.Metrics)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Imaging == (imaging.Options{}) {
		cfg.Imaging = imaging.DefaultOptions()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan Event),
		settings: models.DefaultSettings(),
	}
}

// Start begins a new session from idle, or resumes the paused one.
// Permission is checked before the API key; either failure leaves the state unchanged.
// Both checks run without the lock so Snapshot stays responsive.
func (m *Manager) Start(ctx context.Context, goal string) (Snapshot, error) {
	if snap, err := m.startable(); err != nil {
		return snap, err
	}

	granted := m.cfg.Permission.Granted(ctx)
	var settings models.Settings
	if granted {
		var err error
		if settings, err = m.cfg.Settings.Get(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to load settings, using defaults")
			settings = models.DefaultSettings()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// state may have moved while unlocked
	if snap, err := m.startableLocked(); err != nil {
		return snap, err
	}
	if !granted {
		return m.refuseLocked(AlertPermission, ErrPermissionRequired)
	}
	if !settings.HasAPIKey() {
		return m.refuseLocked(AlertAPIKey, ErrAPIKeyMissing)
	}

	now := m.cfg.Clock.Now()
	if m.current != nil {
		if err := m.current.Resume(); err != nil {
			return m.snapshotLocked(), err
		}
		m.persist(ctx, "save", func(ctx context.Context, s *models.Session) error { return m.cfg.Store.Save(ctx, s) })
		m.cfg.Activity.Info(activity.SourceSession, "Session resumed", m.current.ID)
	} else {
		m.current = models.NewSession(m.cfg.NewID(), goal, now)
		m.elapsed = 0
		m.streak = 0
		m.slackRun = 0
		m.lastCheck = nil
		m.nextCheckAt = time.Time{}
		m.persist(ctx, "insert", func(ctx context.Context, s *models.Session) error { return m.cfg.Store.Insert(ctx, s) })
		m.cfg.Activity.Info(activity.SourceSession, "Session started", sessionDetails(m.current.ID, goal))
	}

	m.alert = AlertNone
	m.applySettingsLocked(settings)
	m.startRunLocked()

	snap := m.snapshotLocked()
	m.emit(Event{Type: EventStateChanged, Snapshot: snap})
	return snap, nil
}

func (m *Manager) startable() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startableLocked()
}

func (m *Manager) startableLocked() (Snapshot, error) {
	if m.closed {
		return m.snapshotLocked(), ErrClosed
	}
	if m.current != nil && m.current.State == models.SessionStateActive {
		return m.snapshotLocked(), ErrInvalidTransition
	}
	return Snapshot{}, nil
}

func sessionDetails(id, goal string) string {
	if goal == "" {
		return id
	}
	return id + ": " + goal
}

// Pause suspends the active session.
func (m *Manager) Pause(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return m.snapshotLocked(), ErrNoSession
	}
	if err := m.current.Pause(); err != nil {
		return m.snapshotLocked(), err
	}
	m.stopRunLocked()
	m.persist(ctx, "save", func(ctx context.Context, s *models.Session) error { return m.cfg.Store.Save(ctx, s) })

	m.cfg.Activity.Info(activity.SourceSession, "Session paused", m.current.ID)

	snap := m.snapshotLocked()
	m.emit(Event{Type: EventStateChanged, Snapshot: snap})
	return snap, nil
}

// Stop completes the current session and returns its final snapshot.
// A later Start creates a new session.
func (m *Manager) Stop(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return m.snapshotLocked(), ErrNoSession
	}
	if err := m.current.Complete(m.cfg.Clock.Now()); err != nil {
		return m.snapshotLocked(), err
	}
	m.stopRunLocked()
	m.persist(ctx, "save", func(ctx context.Context, s *models.Session) error { return m.cfg.Store.Save(ctx, s) })

	m.cfg.Activity.Info(activity.SourceSession, "Session completed",
		fmt.Sprintf("%s: %d checks in %s", m.current.ID, len(m.current.Checks), m.elapsed))

	snap := m.snapshotLocked()
	m.current = nil
	m.emit(Event{Type: EventStateChanged, Snapshot: snap})
	return snap, nil
}

// Snapshot returns the current runtime state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// ApplySettings propagates changed settings to a running session.
// The new interval takes effect on the next capture wait.
func (m *Manager) ApplySettings(s models.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applySettingsLocked(s)
}

// SetProfiles replaces the keyword profiles used for later classifications.
func (m *Manager) SetProfiles(reg *profiles.Registry) {
	m.mu.Lock()
	m.cfg.Profiles = reg
	m.mu.Unlock()
}

// DismissAlert clears a pending permission or API key alert.
func (m *Manager) DismissAlert() {
	m.mu.Lock()
	m.alert = AlertNone
	m.mu.Unlock()
}

// Subscribe returns a channel of runtime events and a func that cancels the subscription.
// Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Event, eventBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

// Close stops any running session work and waits for background goroutines.
// The current session is left as is; RecoverOrphans completes it on the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopRunLocked()
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) refuseLocked(alert Alert, err error) (Snapshot, error) {
	m.alert = alert
	m.cfg.Activity.Warn(activity.SourceSession, "Session start refused", err.Error())
	snap := m.snapshotLocked()
	m.emit(Event{Type: EventAlert, Snapshot: snap, Error: err.Error()})
	return snap, err
}

func (m *Manager) applySettingsLocked(s models.Settings) {
	m.settings = s
	m.cfg.Frames.SetInterval(s.Interval())
}

// startRunLocked starts the capture loop, frame consumer and ticker for a new run epoch.
func (m *Manager) startRunLocked() {
	m.epoch++
	epoch := m.epoch
	runCtx, cancel := context.WithCancel(m.ctx)
	m.runCancel = cancel

	frames, unsubscribe := m.cfg.Frames.Subscribe()
	m.cfg.Frames.Start()

	m.wg.Add(2)
	go m.consume(runCtx, epoch, frames, unsubscribe)
	go m.tick(runCtx, epoch)
}

// stopRunLocked ends the current run epoch. In-flight classifications finish but are discarded.
func (m *Manager) stopRunLocked() {
	m.epoch++
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	m.cfg.Frames.Stop()
}

func (m *Manager) runningLocked(epoch uint64) bool {
	return !m.closed && m.epoch == epoch && m.current != nil && m.current.State == models.SessionStateActive
}

func (m *Manager) consume(ctx context.Context, epoch uint64, frames <-chan capture.Frame, unsubscribe func()) {
	defer m.wg.Done()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			if !m.inFlight.CompareAndSwap(false, true) {
				log.Debug().Uint64("seq", frame.Seq).Msg("Classification in flight, dropping frame")
				continue
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				defer m.inFlight.Store(false)
				m.process(epoch, frame)
			}()
		}
	}
}

func (m *Manager) tick(ctx context.Context, epoch uint64) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if !m.runningLocked(epoch) {
				m.mu.Unlock()
				return
			}
			m.elapsed += m.cfg.TickInterval
			snap := m.snapshotLocked()
			m.mu.Unlock()
			m.emit(Event{Type: EventTick, Snapshot: snap})
		}
	}
}

// process classifies one frame and records the resulting check.
// It runs on the manager context so a stop does not abort the outbound call.
func (m *Manager) process(epoch uint64, frame capture.Frame) {
	ctx := m.ctx

	m.mu.Lock()
	if !m.runningLocked(epoch) {
		m.mu.Unlock()
		return
	}
	if !m.nextCheckAt.IsZero() && frame.CapturedAt.Before(m.nextCheckAt) {
		until := m.nextCheckAt
		m.mu.Unlock()
		m.cfg.Metrics.CooldownSkipped(ctx)
		log.Debug().Time("until", until).Msg("Skipping check cycle, slack cooldown in effect")
		return
	}
	goal := m.current.Goal
	settings := m.settings
	registry := m.cfg.Profiles
	m.mu.Unlock()

	// Settings are re-read every cycle; a failed read keeps the ones applied at start
	if fresh, err := m.cfg.Settings.Get(ctx); err == nil {
		settings = fresh
	} else {
		log.Warn().Err(err).Msg("Failed to reload settings for check")
	}

	data, err := imaging.Process(frame.Image, m.cfg.Imaging)
	if err != nil {
		log.Error().Err(err).Uint64("seq", frame.Seq).Msg("Failed to encode capture")
		return
	}
	log.Debug().
		Int("bytes", len(data)).
		Int("estimatedTokens", imaging.EstimateTokens(m.cfg.Imaging.MaxDimension)).
		Msg("Capture prepared for classification")

	focus, distraction := registry.Keywords(settings.ActiveProfile, settings.FocusKeywords, settings.DistractionKeywords)
	started := m.cfg.Clock.Now()
	res, err := m.cfg.Classifier.Classify(ctx, classify.Request{
		Image:               data,
		Goal:                goal,
		APIKey:              settings.APIKey,
		Model:               settings.Model,
		Provider:            settings.Provider,
		FocusKeywords:       focus,
		DistractionKeywords: distraction,
	})
	m.cfg.Metrics.ClassifyDuration(ctx, m.cfg.Clock.Now().Sub(started), err == nil)
	if err != nil {
		m.handleFailure(ctx, epoch, err, settings)
		return
	}

	m.mu.Lock()
	if !m.runningLocked(epoch) {
		m.mu.Unlock()
		log.Debug().Msg("Session no longer active, discarding classification")
		return
	}
	now := m.cfg.Clock.Now()
	check := &models.Check{
		ID:         m.cfg.NewID(),
		CapturedAt: frame.CapturedAt,
		Label:      res.Label,
		Category:   res.Category,
		Confidence: res.Confidence,
		Reason:     res.Reason,
	}
	m.current.AppendCheck(check)
	m.lastCheck = check

	nudge := false
	var cooldown time.Duration
	if check.IsWork() {
		m.streak++
		m.slackRun = 0
	} else {
		m.streak = 0
		m.slackRun++
		cooldown = m.cfg.Cooldown.Cooldown(settings.Interval(), m.slackRun)
		m.nextCheckAt = now.Add(cooldown)
		if settings.SlackNudgesEnabled {
			check.MarkNudged(now)
			nudge = true
		}
	}
	saved := check.Clone()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.cfg.Metrics.CheckRecorded(ctx, string(saved.Label))
	m.cfg.Activity.Info(activity.SourceSession, "Check recorded", res.String())

	if saved.IsSlack() {
		log.Info().Dur("cooldown", cooldown).Msg("Slack detected, silencing next check")
	}
	if nudge {
		m.cfg.Notifier.Send(ctx, notify.Nudge())
		m.cfg.Metrics.NudgeSent(ctx)
	}

	if err := m.cfg.Store.AppendCheck(ctx, saved); err != nil {
		log.Error().Err(err).Str("checkId", saved.ID).Msg("Failed to persist check")
	}
	m.emit(Event{Type: EventCheckAdded, Snapshot: snap, Check: saved})
}

// handleFailure logs a failed classification and raises throttled alerts for auth and network errors.
// Failures that resolve after the run ended are logged only.
func (m *Manager) handleFailure(ctx context.Context, epoch uint64, err error, settings models.Settings) {
	kind := classify.KindOf(err)
	details := privacy.RedactError(err, settings.APIKey)

	m.mu.Lock()
	running := m.runningLocked(epoch)
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if !running {
		log.Debug().Str("kind", string(kind)).Str("error", details).Msg("Classification failed after session ended, discarding")
		return
	}

	m.cfg.Metrics.ClassificationFailed(ctx, string(kind))
	m.cfg.Activity.Error(activity.SourceSession, "Activity classification failed", string(kind)+": "+details)

	switch kind {
	case classify.KindAuth:
		m.cfg.Notifier.Send(ctx, notify.ErrorAlert(
			"API Key Error",
			"Your Gemini API Key seems invalid. Please check your settings.",
			notify.KeyAPIKeyInvalid,
		))
	case classify.KindNetwork:
		m.cfg.Notifier.Send(ctx, notify.ErrorAlert(
			"Connection Lost",
			"Focus Mate is having trouble reaching the AI. Check your internet.",
			notify.KeyNetworkOffline,
		))
	}

	m.emit(Event{Type: EventClassificationFailed, Snapshot: snap, Error: details})
}

// persist runs a best-effort write of the current session. Failures are logged only.
func (m *Manager) persist(ctx context.Context, op string, fn func(context.Context, *models.Session) error) {
	if err := fn(ctx, m.current); err != nil {
		m.cfg.Activity.Error(activity.SourceSession, "Failed to save session",
			fmt.Sprintf("%s %s: %v", op, m.current.ID, err))
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      StateIdle,
		Alert:      m.alert,
		Elapsed:    m.elapsed,
		Streak:     m.streak,
		Processing: m.inFlight.Load(),
		Capturing:  m.cfg.Frames.IsCapturing(),
	}
	if m.current == nil {
		return snap
	}
	snap.Session = m.current.Clone()
	snap.State = State(m.current.State)
	snap.LastCheck = m.lastCheck.Clone()
	if !m.nextCheckAt.IsZero() {
		t := m.nextCheckAt
		snap.NextCheckAt = &t
	}
	return snap
}

func (m *Manager) emit(evt Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- evt:
		default:
			log.Debug().Int("subscriber", id).Str("type", string(evt.Type)).Msg("Subscriber behind, dropping event")
		}
	}
}
