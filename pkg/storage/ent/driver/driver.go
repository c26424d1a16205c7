// Package entdriver implements storage.Driver on top of ent's SQL dialect
// layer. It is database-agnostic and is embedded by the sqlite and postgres
// drivers, which only differ in how the connection is opened.
package entdriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/papercomputeco/chronicle/pkg/storage"
	"github.com/papercomputeco/chronicle/pkg/storage/ent/migrate"
)

// EntDriver provides storage operations over an ent SQL driver.
type EntDriver struct {
	drv *entsql.Driver

	// now is the clock; tests may replace it.
	now func() time.Time
}

var _ storage.Driver = (*EntDriver)(nil)

// New wraps an opened ent SQL driver. Call Migrate before first use.
func New(drv *entsql.Driver) *EntDriver {
	return &EntDriver{
		drv: drv,
		now: func() time.Time {
			// Postgres keeps microseconds; truncating keeps round trips equal.
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Migrate creates or upgrades the schema.
func (ed *EntDriver) Migrate(ctx context.Context) error {
	return migrate.Create(ctx, ed.drv)
}

// SetClock replaces the driver's time source.
func (ed *EntDriver) SetClock(now func() time.Time) {
	ed.now = func() time.Time { return now().UTC().Truncate(time.Microsecond) }
}

// Close closes the underlying database.
func (ed *EntDriver) Close() error {
	return ed.drv.Close()
}

// DB exposes the underlying database handle.
func (ed *EntDriver) DB() *sql.DB {
	return ed.drv.DB()
}

func (ed *EntDriver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(ed.drv.Dialect())
}

func (ed *EntDriver) postgres() bool {
	return ed.drv.Dialect() == dialect.Postgres
}

// querier is satisfied by both the driver and an open transaction.
type querier = dialect.ExecQuerier

// exec runs a statement and returns the number of affected rows.
func exec(ctx context.Context, q querier, query string, args []any) (int64, error) {
	var res sql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// queryRows runs a query and hands every row to scan.
func queryRows(ctx context.Context, q querier, query string, args []any, scan func(entsql.ColumnScanner) error) error {
	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// withTx runs fn in a transaction, committing on success.
func (ed *EntDriver) withTx(ctx context.Context, fn func(tx querier) error) error {
	tx, err := ed.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

// marshalJSON encodes v for a JSON column. Nil maps become SQL NULL.
func marshalJSON(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case map[string]string:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMap(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
