//go:build integration

package db

import (
	"os"
	"testing"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
)

// TestMySQL_MigrateAndSeed runs against a real MySQL/MariaDB server named by
// WALLBOARD_TEST_MYSQL_DSN.
func TestMySQL_MigrateAndSeed(t *testing.T) {
	dsn := os.Getenv("WALLBOARD_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("WALLBOARD_TEST_MYSQL_DSN not set")
	}

	db, err := Open(config.DatabaseConfig{Driver: "mysql", DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := SeedDefaults(db); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	if err := Ping(db); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
