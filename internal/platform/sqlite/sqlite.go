// Package sqlite provides the single-node SQLite backend for the task store
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/platform/sqlstore"
	"github.com/phrazzld/kcjob/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Dialect is the sqlstore dialect for SQLite. SQLite has no row locks;
// a single connection serializes writers instead.
var Dialect = sqlstore.Dialect{
	Name:     DriverName,
	MapError: MapError,
}

// MapError maps SQLite constraint errors to store errors.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
		}
	}
	return err
}

// Open opens the database file named by cfg.URL with foreign keys, WAL
// journaling and a busy timeout enabled. ":memory:" opens a private
// in-memory database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func dsn(url string) string {
	if url == ":memory:" || strings.HasPrefix(url, "file::memory:") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

// NewTaskStore returns a task store backed by db.
func NewTaskStore(db *sql.DB) *sqlstore.TaskStore {
	return sqlstore.New(db, Dialect)
}
