package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/focusmate/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// SessionStore provides session and check persistence using GORM.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// Insert stores a new session together with any checks it already holds.
func (s *SessionStore) Insert(ctx context.Context, sess *models.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toSessionRow(sess)).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return upsertChecks(tx, sess)
	})
}

// Save writes the session row and upserts all of its checks in one transaction.
func (s *SessionStore) Save(ctx context.Context, sess *models.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toSessionRow(sess)
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"goal", "state", "ended_at", "ended_at_epoch", "updated_at_epoch"}),
		}).Create(row).Error
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return upsertChecks(tx, sess)
	})
}

// AppendCheck stores a single new check for an existing session.
func (s *SessionStore) AppendCheck(ctx context.Context, c *models.Check) error {
	if c.SessionID == "" {
		return fmt.Errorf("append check %s: missing session id", c.ID)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toCheckRow(c)).Error; err != nil {
			return err
		}
		return tx.Model(&FocusSession{}).
			Where("id = ?", c.SessionID).
			Update("updated_at_epoch", time.Now().UnixMilli()).Error
	})
	if err != nil {
		return fmt.Errorf("append check: %w", err)
	}
	return nil
}

// UpdateCheckNudge stamps the nudge time of a check. It is the only mutation a check allows.
func (s *SessionStore) UpdateCheckNudge(ctx context.Context, checkID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&FocusCheck{}).
		Where("id = ?", checkID).
		Update("nudged_at_epoch", at.UnixMilli())
	if result.Error != nil {
		return fmt.Errorf("update check nudge: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FetchAll returns every session, newest first, each with its checks in chronological order.
func (s *SessionStore) FetchAll(ctx context.Context) ([]*models.Session, error) {
	var rows []FocusSession
	err := s.db.WithContext(ctx).
		Order("started_at_epoch DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}
	return s.attachChecks(ctx, rows)
}

// FetchRecent returns at most limit sessions, newest first.
func (s *SessionStore) FetchRecent(ctx context.Context, limit int) ([]*models.Session, error) {
	var rows []FocusSession
	err := s.db.WithContext(ctx).
		Order("started_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch recent sessions: %w", err)
	}
	return s.attachChecks(ctx, rows)
}

// FetchRange returns sessions started in [from, to), newest first.
func (s *SessionStore) FetchRange(ctx context.Context, from, to time.Time) ([]*models.Session, error) {
	var rows []FocusSession
	err := s.db.WithContext(ctx).
		Where("started_at_epoch >= ? AND started_at_epoch < ?", from.UnixMilli(), to.UnixMilli()).
		Order("started_at_epoch DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch session range: %w", err)
	}
	return s.attachChecks(ctx, rows)
}

// Get returns one session with its checks.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var row FocusSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sessions, err := s.attachChecks(ctx, []FocusSession{row})
	if err != nil {
		return nil, err
	}
	return sessions[0], nil
}

// Delete removes a session and its checks.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&FocusCheck{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&FocusSession{})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every session and check.
func (s *SessionStore) DeleteAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&FocusCheck{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&FocusSession{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete all sessions: %w", err)
	}
	return nil
}

// RecoverOrphans completes sessions a previous process left active or paused.
// The end time is the last check time, or the start time when there are no checks.
func (s *SessionStore) RecoverOrphans(ctx context.Context) (int, error) {
	var rows []FocusSession
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{string(models.SessionStateActive), string(models.SessionStatePaused)}).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("find orphaned sessions: %w", err)
	}

	recovered := 0
	for _, row := range rows {
		endEpoch := row.StartedAtEpoch
		var last FocusCheck
		err := s.db.WithContext(ctx).
			Where("session_id = ?", row.ID).
			Order("captured_at_epoch DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return recovered, fmt.Errorf("find last check: %w", err)
		}
		if last.ID != "" {
			endEpoch = last.CapturedAtEpoch
		}

		ended := epochToTime(endEpoch)
		err = s.db.WithContext(ctx).
			Model(&FocusSession{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"state":            string(models.SessionStateCompleted),
				"ended_at":         formatRFC3339(&ended),
				"ended_at_epoch":   endEpoch,
				"updated_at_epoch": time.Now().UnixMilli(),
			}).Error
		if err != nil {
			return recovered, fmt.Errorf("recover session %s: %w", row.ID, err)
		}
		recovered++
	}
	return recovered, nil
}

// attachChecks loads the checks of rows in one query and converts to domain sessions.
func (s *SessionStore) attachChecks(ctx context.Context, rows []FocusSession) ([]*models.Session, error) {
	sessions := make([]*models.Session, 0, len(rows))
	if len(rows) == 0 {
		return sessions, nil
	}

	ids := make([]string, len(rows))
	byID := make(map[string]*models.Session, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
		sess := fromSessionRow(&rows[i])
		byID[sess.ID] = sess
		sessions = append(sessions, sess)
	}

	var checks []FocusCheck
	err := s.db.WithContext(ctx).
		Where("session_id IN ?", ids).
		Order("captured_at_epoch ASC").
		Find(&checks).Error
	if err != nil {
		return nil, fmt.Errorf("fetch checks: %w", err)
	}
	for i := range checks {
		if sess, ok := byID[checks[i].SessionID]; ok {
			sess.Checks = append(sess.Checks, fromCheckRow(&checks[i]))
		}
	}
	return sessions, nil
}

func upsertChecks(tx *gorm.DB, sess *models.Session) error {
	if len(sess.Checks) == 0 {
		return nil
	}
	rows := make([]*FocusCheck, 0, len(sess.Checks))
	for _, c := range sess.Checks {
		c.SessionID = sess.ID
		rows = append(rows, toCheckRow(c))
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"nudged_at_epoch"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert checks: %w", err)
	}
	return nil
}

func toSessionRow(sess *models.Session) *FocusSession {
	return &FocusSession{
		ID:             sess.ID,
		Goal:           sess.Goal,
		State:          string(sess.State),
		StartedAt:      sess.StartedAt.UTC().Format(time.RFC3339),
		StartedAtEpoch: sess.StartedAt.UnixMilli(),
		EndedAt:        formatRFC3339(sess.EndedAt),
		EndedAtEpoch:   nullEpoch(sess.EndedAt),
		UpdatedAtEpoch: time.Now().UnixMilli(),
	}
}

func fromSessionRow(row *FocusSession) *models.Session {
	return &models.Session{
		ID:        row.ID,
		Goal:      row.Goal,
		State:     models.SessionState(row.State),
		StartedAt: epochToTime(row.StartedAtEpoch),
		EndedAt:   timeFromNull(row.EndedAtEpoch),
		Checks:    make([]*models.Check, 0),
	}
}

func toCheckRow(c *models.Check) *FocusCheck {
	return &FocusCheck{
		ID:              c.ID,
		SessionID:       c.SessionID,
		Label:           string(c.Label),
		Category:        string(c.Category),
		Reason:          c.Reason,
		Confidence:      c.Confidence,
		CapturedAt:      c.CapturedAt.UTC().Format(time.RFC3339),
		CapturedAtEpoch: c.CapturedAt.UnixMilli(),
		NudgedAtEpoch:   nullEpoch(c.NudgedAt),
	}
}

func fromCheckRow(row *FocusCheck) *models.Check {
	return &models.Check{
		ID:         row.ID,
		SessionID:  row.SessionID,
		Label:      models.Label(row.Label),
		Category:   models.Category(row.Category),
		Reason:     row.Reason,
		Confidence: row.Confidence,
		CapturedAt: epochToTime(row.CapturedAtEpoch),
		NudgedAt:   timeFromNull(row.NudgedAtEpoch),
	}
}
