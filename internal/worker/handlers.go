package worker

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/focusmate/internal/activity"
	"github.com/thebtf/focusmate/internal/analytics"
	"github.com/thebtf/focusmate/internal/classify"
	gormdb "github.com/thebtf/focusmate/internal/db/gorm"
	"github.com/thebtf/focusmate/internal/profiles"
	"github.com/thebtf/focusmate/internal/worker/session"
	"github.com/thebtf/focusmate/pkg/models"
)

const (
	// DefaultSessionsLimit is the page size for GET /api/sessions.
	DefaultSessionsLimit = 50
	// DefaultSummaryDays is the analytics window when ?days is absent.
	DefaultSummaryDays = 7
	// MaxSummaryDays bounds the analytics window.
	MaxSummaryDays = 365
	// TopDistractionsLimit is the number of categories in the summary.
	TopDistractionsLimit = 5
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 1 << 20
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes the request body into v and writes a 400 on failure.
// An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if !s.ready.Load() {
		status = "starting"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": s.version,
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	if err := s.store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.version,
		"uptime":  time.Since(s.startTime).Truncate(time.Second).String(),
		"driver":  s.store.Driver(),
	})
}

// --- Session control ---

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Snapshot())
}

func (s *Service) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal string `json:"goal"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	snap, err := s.manager.Start(r.Context(), strings.TrimSpace(req.Goal))
	if err != nil {
		writeJSON(w, statusForSessionError(err), map[string]interface{}{
			"error":    err.Error(),
			"snapshot": snap,
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Pause(r.Context())
	if err != nil {
		writeError(w, statusForSessionError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleStopSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Stop(r.Context())
	if err != nil {
		writeError(w, statusForSessionError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	s.manager.DismissAlert()
	writeJSON(w, http.StatusOK, s.manager.Snapshot())
}

func statusForSessionError(err error) int {
	switch {
	case errors.Is(err, session.ErrPermissionRequired):
		return http.StatusForbidden
	case errors.Is(err, session.ErrAPIKeyMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// --- Stored sessions ---

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := gormdb.ParseLimitParam(r, DefaultSessionsLimit)
	sessions, err := s.sessionStore.FetchRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type sessionSummary struct {
		*models.Session
		FocusScore float64 `json:"focus_score"`
		Duration   float64 `json:"duration_seconds"`
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		score, dur := analytics.SummarizeSession(sess)
		out = append(out, sessionSummary{Session: sess, FocusScore: score, Duration: dur.Seconds()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) getStoredSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessionStore.Get(r.Context(), id)
	if errors.Is(err, gormdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Service) handleGetStoredSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.getStoredSession(w, r); ok {
		writeJSON(w, http.StatusOK, sess)
	}
}

func (s *Service) handleSessionTimeline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getStoredSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analytics.CoalesceTimeline(sess.Checks))
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if cur := s.manager.Snapshot().Session; cur != nil && cur.ID == id {
		writeError(w, http.StatusConflict, "cannot delete the current session")
		return
	}

	err := s.sessionStore.Delete(r.Context(), id)
	if errors.Is(err, gormdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.insights.Invalidate()
	s.activity.Info(activity.SourceSystem, "Session deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	if s.manager.Snapshot().Session != nil {
		writeError(w, http.StatusConflict, "stop the current session first")
		return
	}
	if err := s.sessionStore.DeleteAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.aggregateStore.DeleteAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.insights.Invalidate()
	s.activity.Info(activity.SourceSystem, "All sessions deleted", "")
	w.WriteHeader(http.StatusNoContent)
}

// --- Analytics ---

// parseDays reads ?days, defaulting to DefaultSummaryDays and clamping to MaxSummaryDays.
func parseDays(r *http.Request) int {
	days := DefaultSummaryDays
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	if days > MaxSummaryDays {
		days = MaxSummaryDays
	}
	return days
}

// window returns [start of the day days-1 ago, start of tomorrow).
func (s *Service) window(days int) (time.Time, time.Time) {
	today := models.StartOfDay(s.clock.Now())
	return today.AddDate(0, 0, -(days - 1)), today.AddDate(0, 0, 1)
}

func (s *Service) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r)
	from, to := s.window(days)
	sessions, err := s.sessionStore.FetchRange(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":    days,
		"from":    from,
		"to":      to,
		"summary": analytics.BuildSummary(sessions, TopDistractionsLimit),
	})
}

func (s *Service) handleInsight(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settingsStore.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !settings.HasAPIKey() {
		writeError(w, http.StatusPreconditionFailed, session.ErrAPIKeyMissing.Error())
		return
	}

	from, to := s.window(parseDays(r))
	sessions, err := s.sessionStore.FetchRange(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	insight, err := s.insights.Insight(r.Context(), sessions, settings)
	if err != nil {
		status := http.StatusBadGateway
		if classify.IsAuth(err) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func (s *Service) handleListAggregates(w http.ResponseWriter, r *http.Request) {
	from, to := s.window(parseDays(r))
	aggs, err := s.aggregateStore.List(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, aggs)
}

func (s *Service) handleRebuildAggregates(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r)
	from, to := s.window(days)
	n, err := analytics.RebuildAggregates(r.Context(), s.sessionStore, s.aggregateStore, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"days": days, "rebuilt": n})
}

// --- Settings ---

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settingsStore.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings.Redacted())
}

// settingsPatch holds the fields a client may change. Nil fields are left as is.
type settingsPatch struct {
	IntervalSeconds     *int      `json:"interval_seconds"`
	SlackNudgesEnabled  *bool     `json:"slack_nudges_enabled"`
	Model               *string   `json:"model"`
	APIKey              *string   `json:"api_key"`
	Provider            *string   `json:"provider"`
	ActiveProfile       *string   `json:"active_profile"`
	FocusKeywords       *[]string `json:"focus_keywords"`
	DistractionKeywords *[]string `json:"distraction_keywords"`
}

func (p settingsPatch) apply(s models.Settings) (models.Settings, error) {
	if p.IntervalSeconds != nil {
		if *p.IntervalSeconds < models.MinIntervalSeconds {
			return s, errors.New("interval_seconds must be at least " + strconv.Itoa(models.MinIntervalSeconds))
		}
		s.IntervalSeconds = *p.IntervalSeconds
	}
	if p.SlackNudgesEnabled != nil {
		s.SlackNudgesEnabled = *p.SlackNudgesEnabled
	}
	if p.Model != nil {
		if strings.TrimSpace(*p.Model) == "" {
			return s, errors.New("model must not be empty")
		}
		s.Model = strings.TrimSpace(*p.Model)
	}
	if p.Provider != nil {
		switch *p.Provider {
		case models.ProviderAIStudio, models.ProviderVertexAI:
			s.Provider = *p.Provider
		default:
			return s, errors.New("unknown provider: " + *p.Provider)
		}
	}
	if p.APIKey != nil {
		key := strings.TrimSpace(*p.APIKey)
		if key != s.APIKey {
			s.APIKey = key
			s.KeyValidated = false
		}
	}
	if p.ActiveProfile != nil {
		s.ActiveProfile = *p.ActiveProfile
	}
	if p.FocusKeywords != nil {
		s.FocusKeywords = cleanKeywords(*p.FocusKeywords)
	}
	if p.DistractionKeywords != nil {
		s.DistractionKeywords = cleanKeywords(*p.DistractionKeywords)
	}
	return s, nil
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (s *Service) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if !readJSON(w, r, &patch) {
		return
	}

	current, err := s.settingsStore.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	updated, err := patch.apply(current)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.settingsStore.Save(r.Context(), updated); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.manager.ApplySettings(updated)
	s.activity.Info(activity.SourceSystem, "Settings updated", "")
	writeJSON(w, http.StatusOK, updated.Redacted())
}

func (s *Service) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey   string `json:"api_key"`
		Model    string `json:"model"`
		Provider string `json:"provider"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	settings, err := s.settingsStore.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		key = settings.APIKey
	}
	if strings.TrimSpace(key) == "" {
		writeError(w, http.StatusPreconditionFailed, session.ErrAPIKeyMissing.Error())
		return
	}
	model := req.Model
	if model == "" {
		model = settings.Model
	}
	provider := req.Provider
	if provider == "" {
		provider = settings.Provider
	}

	verr := s.validator.ValidateKey(r.Context(), key, model, provider)
	valid := verr == nil

	// Only the stored key's validation state is persisted.
	if key == settings.APIKey && settings.KeyValidated != valid {
		settings.KeyValidated = valid
		if err := s.settingsStore.Save(r.Context(), settings); err != nil {
			log.Warn().Err(err).Msg("Failed to persist key validation")
		}
	}

	resp := map[string]interface{}{"valid": valid}
	if verr != nil {
		resp["error"] = verr.Error()
		resp["kind"] = string(classify.KindOf(verr))
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Profiles and logs ---

func (s *Service) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	registry, err := profiles.Load(s.profilesPath)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, registry.All())
}

func (s *Service) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.activity.Entries()
	if limit := gormdb.ParseLimitParam(r, len(entries)); limit < len(entries) {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.activity.Clear()
	w.WriteHeader(http.StatusNoContent)
}
