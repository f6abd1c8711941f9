// Package testdb opens the PostgreSQL database used by integration tests.
// Tests are skipped unless KC_TEST_DATABASE_URL (or DATABASE_URL) is set.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/platform/migrations"
	"github.com/phrazzld/kcjob/internal/platform/postgres"
	"github.com/phrazzld/kcjob/internal/redact"
)

// URLEnvVars are checked in order for the test database URL.
var URLEnvVars = []string{"KC_TEST_DATABASE_URL", "DATABASE_URL"}

// DatabaseURL returns the first configured test database URL, or "".
func DatabaseURL() string {
	for _, name := range URLEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ShouldSkipDatabaseTest reports whether no test database is configured.
func ShouldSkipDatabaseTest() bool {
	return DatabaseURL() == ""
}

// Open connects to the test database, applies migrations and empties the
// tasks table. The table is emptied again and the pool closed on cleanup.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	url := DatabaseURL()
	if url == "" {
		t.Skip("set KC_TEST_DATABASE_URL to run PostgreSQL integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, config.DatabaseConfig{
		Driver:          "postgres",
		URL:             url,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("open test database: %s", redact.Error(err))
	}
	if err := migrations.Up(ctx, db, postgres.DriverName); err != nil {
		_ = db.Close()
		t.Fatalf("migrate test database: %v", err)
	}

	Reset(t, db)
	t.Cleanup(func() {
		Reset(t, db)
		_ = db.Close()
	})
	return db
}

// Reset deletes every task row.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), "DELETE FROM tasks"); err != nil {
		t.Fatalf("reset tasks table: %v", err)
	}
}
