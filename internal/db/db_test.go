package db

import (
	"strings"
	"testing"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  config.DatabaseConfig{DSN: "u:p@tcp(x:1)/y", Host: "ignored"},
			want: "u:p@tcp(x:1)/y",
		},
		{
			name: "user and password",
			cfg:  config.DatabaseConfig{Host: "10.0.0.5", Port: 3307, Name: "wallboard", User: "wb", Password: "pw"},
			want: "wb:pw@tcp(10.0.0.5:3307)/wallboard?parseTime=true&loc=Local",
		},
		{
			name: "no credentials",
			cfg:  config.DatabaseConfig{Host: "localhost", Port: 3306, Name: "wallboard"},
			want: "tcp(localhost:3306)/wallboard?parseTime=true&loc=Local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{
		"calls", "agent_status", "agent_queue_membership", "queues", "extensions",
		"alert_rules", "active_alerts", "alert_history", "company_config",
		"ami_config", "smtp_config", "alert_recipients", "webhook_config",
		"queue_stats_realtime", "daily_stats", "missed_calls", "repeat_callers",
	} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table %q was not created", table)
		}
	}
	if err := Ping(db); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 2; i++ {
		if err := SeedDefaults(db); err != nil {
			t.Fatalf("SeedDefaults (pass %d): %v", i, err)
		}
	}

	var companies int64
	db.Model(&models.CompanyConfig{}).Count(&companies)
	if companies != 1 {
		t.Errorf("company_config rows = %d, want 1", companies)
	}
	var rules int64
	db.Model(&models.AlertRule{}).Count(&rules)
	if int(rules) != len(DefaultAlertRules()) {
		t.Errorf("alert_rules rows = %d, want %d", rules, len(DefaultAlertRules()))
	}

	var cc models.CompanyConfig
	db.First(&cc)
	if cc.SLAThreshold != 30 {
		t.Errorf("SLAThreshold = %d, want 30", cc.SLAThreshold)
	}
	if !cc.AlertsEnabled {
		t.Error("AlertsEnabled should default to true")
	}
}

func TestSeedQueues_Upsert(t *testing.T) {
	db := openTestDB(t)

	if err := SeedQueues(db, []models.Queue{{QueueNumber: "1293", DisplayName: "Support", IsActive: true}}); err != nil {
		t.Fatalf("SeedQueues: %v", err)
	}
	if err := SeedQueues(db, []models.Queue{{QueueNumber: "1293", DisplayName: "Tier 1", IsActive: false}}); err != nil {
		t.Fatalf("SeedQueues (update): %v", err)
	}

	var q models.Queue
	if err := db.First(&q, "queue_number = ?", "1293").Error; err != nil {
		t.Fatalf("load queue: %v", err)
	}
	if q.DisplayName != "Tier 1" {
		t.Errorf("DisplayName = %q, want Tier 1", q.DisplayName)
	}
	if q.IsActive {
		t.Error("IsActive should have been updated to false")
	}
}

func TestActiveAMIConfig(t *testing.T) {
	db := openTestDB(t)

	ac, err := ActiveAMIConfig(db)
	if err != nil {
		t.Fatalf("ActiveAMIConfig: %v", err)
	}
	if ac != nil {
		t.Fatalf("expected nil config on empty table, got %+v", ac)
	}

	db.Create(&models.AMIConfig{AMIHost: "pbx", AMIPort: 5038, AMIUsername: "wb", AMIPassword: "x", IsActive: true})
	ac, err = ActiveAMIConfig(db)
	if err != nil {
		t.Fatalf("ActiveAMIConfig: %v", err)
	}
	if ac == nil || ac.AMIHost != "pbx" {
		t.Fatalf("ActiveAMIConfig = %+v, want host pbx", ac)
	}
}
