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

// SettingsStore persists the single Settings record.
type SettingsStore struct {
	db *gorm.DB
}

// NewSettingsStore creates a new settings store.
func NewSettingsStore(store *Store) *SettingsStore {
	return &SettingsStore{db: store.DB}
}

// Get returns the stored settings, creating the default row on first access.
func (s *SettingsStore) Get(ctx context.Context) (models.Settings, error) {
	var row AppSettings
	err := s.db.WithContext(ctx).Where("id = ?", settingsRowID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		def := models.DefaultSettings()
		if err := s.Save(ctx, def); err != nil {
			return models.Settings{}, err
		}
		return def, nil
	}
	if err != nil {
		return models.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return fromSettingsRow(&row), nil
}

// Save replaces the stored settings.
func (s *SettingsStore) Save(ctx context.Context, settings models.Settings) error {
	row := toSettingsRow(settings)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func toSettingsRow(s models.Settings) *AppSettings {
	focus := JSONStringArray(s.FocusKeywords)
	if focus == nil {
		focus = JSONStringArray{}
	}
	distraction := JSONStringArray(s.DistractionKeywords)
	if distraction == nil {
		distraction = JSONStringArray{}
	}
	return &AppSettings{
		ID:                  settingsRowID,
		IntervalSeconds:     s.IntervalSeconds,
		SlackNudgesEnabled:  s.SlackNudgesEnabled,
		Model:               s.Model,
		APIKey:              s.APIKey,
		Provider:            s.Provider,
		ActiveProfile:       s.ActiveProfile,
		FocusKeywords:       focus,
		DistractionKeywords: distraction,
		KeyValidated:        s.KeyValidated,
		UpdatedAtEpoch:      time.Now().UnixMilli(),
	}
}

func fromSettingsRow(row *AppSettings) models.Settings {
	return models.Settings{
		IntervalSeconds:     row.IntervalSeconds,
		SlackNudgesEnabled:  row.SlackNudgesEnabled,
		Model:               row.Model,
		APIKey:              row.APIKey,
		Provider:            row.Provider,
		ActiveProfile:       row.ActiveProfile,
		FocusKeywords:       []string(row.FocusKeywords),
		DistractionKeywords: []string(row.DistractionKeywords),
		KeyValidated:        row.KeyValidated,
		UpdatedAt:           epochToTime(row.UpdatedAtEpoch),
	}
}
