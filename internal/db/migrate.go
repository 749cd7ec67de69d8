package db

import (
	"errors"
	"fmt"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model the daemon reads or writes.
func AllModels() []interface{} {
	return []interface{}{
		&models.Call{},
		&models.AgentStatus{},
		&models.QueueMembership{},
		&models.Queue{},
		&models.Extension{},
		&models.AlertRule{},
		&models.ActiveAlert{},
		&models.AlertHistory{},
		&models.CompanyConfig{},
		&models.AMIConfig{},
		&models.SMTPConfig{},
		&models.AlertRecipient{},
		&models.WebhookConfig{},
		&models.QueueStatsRealtime{},
		&models.DailyStats{},
		&models.MissedCall{},
		&models.RepeatCaller{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DefaultCompanyConfig is written when no company_config row exists.
func DefaultCompanyConfig() models.CompanyConfig {
	return models.CompanyConfig{
		CompanyName:           "Wallboard",
		Timezone:              "UTC",
		SLAThreshold:          30,
		WrapupTime:            30,
		AlertsEnabled:         true,
		QuietHoursStart:       "21:00:00",
		QuietHoursEnd:         "07:00:00",
		RepeatCallerDays:      7,
		RepeatCallerThreshold: 3,
	}
}

// DefaultAlertRules are seeded disabled so operators opt in from the admin UI.
func DefaultAlertRules() []models.AlertRule {
	return []models.AlertRule{
		{Name: "Calls waiting high", AlertType: "calls_waiting_high", Threshold: 5, CooldownMinutes: 15, Severity: "warning"},
		{Name: "Longest wait high", AlertType: "longest_wait_high", Threshold: 120, CooldownMinutes: 15, Severity: "warning"},
		{Name: "SLA below target", AlertType: "sla_below", Threshold: 80, CooldownMinutes: 30, Severity: "critical"},
		{Name: "Abandoned calls high", AlertType: "abandoned_rate_high", Threshold: 5, CooldownMinutes: 30, Severity: "warning"},
		{Name: "No agents available", AlertType: "no_agents", Threshold: 1, CooldownMinutes: 5, Severity: "critical"},
	}
}

// SeedDefaults writes the company_config row and the default alert rules if
// they are missing. Existing rows are left untouched.
func SeedDefaults(db *gorm.DB) error {
	var cc models.CompanyConfig
	err := db.First(&cc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cc = DefaultCompanyConfig()
		if err := db.Create(&cc).Error; err != nil {
			return fmt.Errorf("db: seed company config: %w", err)
		}
	case err != nil:
		return fmt.Errorf("db: read company config: %w", err)
	}

	var count int64
	if err := db.Model(&models.AlertRule{}).Count(&count).Error; err != nil {
		return fmt.Errorf("db: count alert rules: %w", err)
	}
	if count > 0 {
		return nil
	}
	rules := DefaultAlertRules()
	if err := db.Create(&rules).Error; err != nil {
		return fmt.Errorf("db: seed alert rules: %w", err)
	}
	return nil
}

// SeedQueues upserts monitored queues by number.
func SeedQueues(db *gorm.DB, queues []models.Queue) error {
	for _, q := range queues {
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "queue_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"queue_name", "display_name", "is_active"}),
		}).Create(&q)
		if result.Error != nil {
			return fmt.Errorf("db: seed queue %q: %w", q.QueueNumber, result.Error)
		}
	}
	return nil
}

// SeedExtensions upserts monitored extensions.
func SeedExtensions(db *gorm.DB, exts []models.Extension) error {
	for _, e := range exts {
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "extension"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "is_active"}),
		}).Create(&e)
		if result.Error != nil {
			return fmt.Errorf("db: seed extension %q: %w", e.Extension, result.Error)
		}
	}
	return nil
}

// ActiveAMIConfig returns the active ami_config row, if any.
func ActiveAMIConfig(db *gorm.DB) (*models.AMIConfig, error) {
	var ac models.AMIConfig
	err := db.Where("is_active = ?", true).First(&ac).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: read ami config: %w", err)
	}
	return &ac, nil
}
