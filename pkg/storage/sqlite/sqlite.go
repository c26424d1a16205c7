// Package sqlite provides a SQLite-backed storage driver using ent's SQL layer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/mattn/go-sqlite3"

	entdriver "github.com/papercomputeco/chronicle/pkg/storage/ent/driver"
)

// SQLiteDriver implements storage.Driver using SQLite via the ent driver
type SQLiteDriver struct {
	*entdriver.EntDriver
}

// NewSQLiteDriver creates a new SQLite-backed store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDriver(dbPath string) (*SQLiteDriver, error) {
	return NewSQLiteDriverContext(context.Background(), dbPath)
}

// NewSQLiteDriverContext is NewSQLiteDriver with a context for the migration.
func NewSQLiteDriverContext(ctx context.Context, dbPath string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writers are serialized and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	ed := entdriver.New(entsql.OpenDB(dialect.SQLite, db))
	if err := ed.Migrate(ctx); err != nil {
		ed.Close()
		return nil, err
	}

	return &SQLiteDriver{EntDriver: ed}, nil
}
