// Package worker provides the focusmate HTTP service: session control, analytics and the dashboard.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/focusmate/internal/activity"
	"github.com/thebtf/focusmate/internal/analytics"
	"github.com/thebtf/focusmate/internal/capture"
	"github.com/thebtf/focusmate/internal/classify"
	"github.com/thebtf/focusmate/internal/clock"
	"github.com/thebtf/focusmate/internal/config"
	gormdb "github.com/thebtf/focusmate/internal/db/gorm"
	"github.com/thebtf/focusmate/internal/imaging"
	"github.com/thebtf/focusmate/internal/metrics"
	"github.com/thebtf/focusmate/internal/notify"
	"github.com/thebtf/focusmate/internal/profiles"
	"github.com/thebtf/focusmate/internal/watcher"
	"github.com/thebtf/focusmate/internal/worker/session"
	"github.com/thebtf/focusmate/internal/worker/sse"
	"github.com/thebtf/focusmate/pkg/models"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// KeyValidator verifies an API key against the provider.
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey, model, provider string) error
}

// Service wires the store, the session runtime and the HTTP API together.
type Service struct {
	startTime      time.Time
	clock          clock.Clock
	validator      KeyValidator
	ctx            context.Context
	config         *config.Config
	store          *gormdb.Store
	sessionStore   *gormdb.SessionStore
	settingsStore  *gormdb.SettingsStore
	aggregateStore *gormdb.AggregateStore
	manager        *session.Manager
	loop           *capture.Loop
	insights       *analytics.InsightService
	activity       *activity.Log
	sseBroadcaster *sse.Broadcaster
	throttle       *notify.Throttle
	watcher        *watcher.Watcher
	router         *chi.Mux
	cancel         context.CancelFunc
	version        string
	profilesPath   string
	closeOnce      sync.Once
	ready          atomic.Bool
}

// NewService opens the store and builds every component from cfg.
func NewService(cfg *config.Config, version string) (*Service, error) {
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sessionStore := gormdb.NewSessionStore(store)
	if n, err := sessionStore.RecoverOrphans(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to recover interrupted sessions")
	} else if n > 0 {
		log.Info().Int("sessions", n).Msg("Completed sessions left open by a previous run")
	}

	rec, err := metrics.NewGlobal()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	policy, err := session.PolicyByName(cfg.CooldownPolicy, cfg.CooldownMaxSteps)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	profilesPath := config.ProfilesPath()
	registry, err := profiles.Load(profilesPath)
	if err != nil {
		log.Warn().Err(err).Str("path", profilesPath).Msg("Invalid profiles file, continuing without profiles")
		registry = profiles.Empty()
	}

	clk := clock.System{}
	activityLog := activity.New(cfg.ActivityLogSize)
	broadcaster := sse.NewBroadcaster()
	throttle := notify.NewThrottle(notify.Multi{notify.Backend(cfg.Notifier), broadcaster}, notify.DefaultCooldown, clk, rec)

	gemini := classify.NewGeminiClient(
		classify.WithBaseURLs(cfg.StudioBaseURL, cfg.VertexBaseURL),
		classify.WithTimeout(time.Duration(cfg.ClassifierTimeoutSeconds)*time.Second),
		classify.WithActivityLog(activityLog),
	)

	source := capture.NewCommandSource(cfg.CaptureCommand)
	loop := capture.NewLoop(source, time.Duration(models.DefaultIntervalSeconds)*time.Second,
		capture.WithClock(clk),
		capture.WithMetrics(rec),
	)

	settingsStore := gormdb.NewSettingsStore(store)
	manager := session.NewManager(session.Config{
		Store:      sessionStore,
		Settings:   settingsStore,
		Frames:     loop,
		Permission: source,
		Classifier: gemini,
		Notifier:   throttle,
		Clock:      clk,
		Cooldown:   policy,
		Metrics:    rec,
		Activity:   activityLog,
		Profiles:   registry,
		Imaging:    imaging.Options{MaxDimension: cfg.ImageMaxDimension, Quality: cfg.JPEGQuality},
	})

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:        version,
		profilesPath:   profilesPath,
		config:         cfg,
		clock:          clk,
		store:          store,
		sessionStore:   sessionStore,
		settingsStore:  settingsStore,
		aggregateStore: gormdb.NewAggregateStore(store),
		manager:        manager,
		loop:           loop,
		insights:       analytics.NewInsightService(gemini, clk, time.Duration(cfg.InsightTTLHours)*time.Hour),
		validator:      gemini,
		activity:       activityLog,
		sseBroadcaster: broadcaster,
		throttle:       throttle,
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	w, err := watcher.New([]string{config.SettingsPath(), profilesPath}, svc.onConfigChange)
	if err != nil {
		log.Warn().Err(err).Msg("Config hot reload disabled")
	} else {
		svc.watcher = w
	}

	svc.setupRoutes()
	return svc, nil
}

// Run serves HTTP on 127.0.0.1:port until ctx is cancelled, then shuts down.
// The service is closed on return, including when the port cannot be bound.
func (s *Service) Run(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		s.Close()
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Str("version", s.version).Msg("Worker listening")
		s.ready.Store(true)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.forwardEvents(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close stops the runtime and releases the store. The current session is left for RecoverOrphans.
// Close is safe to call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.watcher != nil {
			_ = s.watcher.Stop()
		}
		s.manager.Close()
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	})
}

// forwardEvents publishes runtime events to SSE clients and refreshes analytics caches.
func (s *Service) forwardEvents(ctx context.Context) {
	events, cancel := s.manager.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type == session.EventStateChanged && evt.Snapshot.State == session.StateCompleted {
				s.onSessionCompleted(evt.Snapshot.Session)
			}
			s.sseBroadcaster.Publish(string(evt.Type), evt)
		}
	}
}

// onSessionCompleted refreshes the rollups for the days the session touched.
func (s *Service) onSessionCompleted(sess *models.Session) {
	if sess == nil {
		return
	}
	s.insights.Invalidate()

	from := models.StartOfDay(sess.StartedAt)
	to := models.StartOfDay(s.clock.Now()).AddDate(0, 0, 1)
	if _, err := analytics.RebuildAggregates(s.ctx, s.sessionStore, s.aggregateStore, from, to); err != nil {
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("Failed to refresh daily aggregates")
	}
}

// onConfigChange hot reloads the settings file or the keyword profiles.
func (s *Service) onConfigChange(path string) {
	switch filepath.Base(path) {
	case filepath.Base(s.profilesPath):
		registry, err := profiles.Load(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Invalid profiles file, keeping previous profiles")
			s.activity.Warn(activity.SourceSystem, "Invalid profiles file", err.Error())
			return
		}
		s.manager.SetProfiles(registry)
		s.activity.Info(activity.SourceSystem, "Keyword profiles reloaded", fmt.Sprintf("%d profiles", len(registry.Names())))

	default:
		cfg, err := config.Reload()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to reload config")
			return
		}
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
		s.config = cfg

		settings, err := s.settingsStore.Get(s.ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load settings after config change")
			return
		}
		s.manager.ApplySettings(settings)
		s.activity.Info(activity.SourceSystem, "Configuration reloaded", "")
	}
}

// Router returns the HTTP handler.
func (s *Service) Router() http.Handler {
	return s.router
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", serveIndex)
	r.Get("/assets/*", serveAssets)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/version", s.handleVersion)

		r.Group(func(r chi.Router) {
			r.Use(s.requireReady)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/start", s.handleStartSession)
				r.Post("/pause", s.handlePauseSession)
				r.Post("/stop", s.handleStopSession)
				r.Post("/alert/dismiss", s.handleDismissAlert)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Delete("/", s.handleDeleteAllSessions)
				r.Get("/{id}", s.handleGetStoredSession)
				r.Get("/{id}/timeline", s.handleSessionTimeline)
				r.Delete("/{id}", s.handleDeleteSession)
			})

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/summary", s.handleAnalyticsSummary)
				r.Get("/insight", s.handleInsight)
				r.Get("/aggregates", s.handleListAggregates)
				r.Post("/aggregates/rebuild", s.handleRebuildAggregates)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.handleGetSettings)
				r.Put("/", s.handleUpdateSettings)
				r.Post("/validate", s.handleValidateKey)
			})

			r.Get("/profiles", s.handleListProfiles)

			r.Route("/logs", func(r chi.Router) {
				r.Get("/", s.handleGetLogs)
				r.Delete("/", s.handleClearLogs)
			})

			r.Get("/events", s.sseBroadcaster.HandleSSE)
		})
	})
}

// requireReady rejects API calls until the service is serving.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the logger.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLogger logs method, path, status and duration at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
