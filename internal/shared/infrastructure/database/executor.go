// Package database hides the PostgreSQL and SQLite stores behind one executor
// interface. Statements are written with "?" placeholders on every driver.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoRows is reported by Row.Scan when the query matched nothing.
var ErrNoRows = errors.New("no rows in result set")

// IsNoRows reports whether err means a single-row query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows) || errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// Row is a single result row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a cursor over a result set. Close must be called.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Result reports the outcome of Exec.
type Result interface {
	RowsAffected() (int64, error)
	LastInsertId() (int64, error)
}

// Executor runs statements. Repositories depend on this and nothing else.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Transaction is an Executor whose statements commit or roll back together.
type Transaction interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is an open store. Statements run on it directly are autocommitted.
type Connection interface {
	Executor
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
	Ping(ctx context.Context) error
	Driver() Driver
}

// NormalizeRow wraps a driver row so a missing row also matches ErrNoRows.
// The driver error stays in the chain.
func NormalizeRow(row Row) Row {
	return normalizedRow{row: row}
}

type normalizedRow struct {
	row Row
}

func (r normalizedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if err != nil && !errors.Is(err, ErrNoRows) && IsNoRows(err) {
		return fmt.Errorf("%w: %w", ErrNoRows, err)
	}
	return err
}
