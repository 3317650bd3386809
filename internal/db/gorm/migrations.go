package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/focusmate/pkg/models"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: sessions and their checks
		{
			ID: "001_focus_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&FocusSession{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&FocusCheck{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("focus_checks", "focus_sessions")
			},
		},

		// Migration 002: settings row, seeded with defaults
		{
			ID: "002_app_settings",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&AppSettings{}); err != nil {
					return err
				}
				def := models.DefaultSettings()
				row := &AppSettings{
					ID:                  settingsRowID,
					IntervalSeconds:     def.IntervalSeconds,
					SlackNudgesEnabled:  def.SlackNudgesEnabled,
					Model:               def.Model,
					Provider:            def.Provider,
					FocusKeywords:       JSONStringArray{},
					DistractionKeywords: JSONStringArray{},
				}
				return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("app_settings")
			},
		},

		// Migration 003: daily rollup cache
		{
			ID: "003_daily_aggregates",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&DailyAggregateRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("daily_aggregates")
			},
		},
	})

	return m.Migrate()
}
