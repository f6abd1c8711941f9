// Package migrations embeds the task schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/pressly/goose/v3"
)

// TableName is the goose bookkeeping table.
const TableName = "schema_migrations"

//go:embed sql/*.sql
var files embed.FS

// goose keeps its settings in package globals.
var mu sync.Mutex

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	ctx context.Context
}

func (l slogGooseLogger) Printf(format string, v ...any) {
	logger.FromContext(l.ctx).Info(fmt.Sprintf(format, v...), "component", "migrations")
}

// Fatalf logs only; the error is returned to the caller instead of exiting.
func (l slogGooseLogger) Fatalf(format string, v ...any) {
	logger.FromContext(l.ctx).Error(fmt.Sprintf(format, v...), "component", "migrations")
}

// Dialect maps a database driver name to the goose dialect.
func Dialect(driver string) (goose.Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return goose.DialectPostgres, nil
	case "sqlite", "sqlite3":
		return goose.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("unsupported migration driver %q", driver)
	}
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB, driver string) error {
	return run(ctx, db, driver, func() error { return goose.UpContext(ctx, db, "sql") })
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, driver string) error {
	return run(ctx, db, driver, func() error { return goose.DownContext(ctx, db, "sql") })
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB, driver string) (int64, error) {
	var v int64
	err := run(ctx, db, driver, func() error {
		var err error
		v, err = goose.GetDBVersionContext(ctx, db)
		return err
	})
	return v, err
}

func run(ctx context.Context, db *sql.DB, driver string, fn func() error) error {
	dialect, err := Dialect(driver)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(files)
	goose.SetTableName(TableName)
	goose.SetLogger(slogGooseLogger{ctx: ctx})
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := fn(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
