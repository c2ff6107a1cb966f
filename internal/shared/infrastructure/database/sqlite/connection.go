// Package sqlite registers the pure Go SQLite driver used in local mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
)

const defaultBusyTimeout = 5 * time.Second

func init() {
	database.Register(database.DriverSQLite, Open)
}

// Open opens the SQLite file named by cfg.SQLitePath, creating its directory
// when missing.
func Open(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = database.DefaultSQLitePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One writer at a time; a second connection would only wait on the lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	return &Connection{executor: executor{q: db}, db: db}, nil
}

// dsn appends the connection pragmas to path.
func dsn(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	pragmas := []string{
		"journal_mode(WAL)",
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		"synchronous(NORMAL)",
	}

	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor struct {
	q querier
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e executor) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return database.NormalizeRow(e.q.QueryRowContext(ctx, query, args...))
}

func (e executor) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Connection is a SQLite database handle.
type Connection struct {
	executor
	db *sql.DB
}

func (c *Connection) Driver() database.Driver {
	return database.DriverSQLite
}

func (c *Connection) Close() error {
	return c.db.Close()
}

func (c *Connection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Transaction{executor: executor{q: tx}, tx: tx}, nil
}

// Transaction is an open SQLite transaction.
type Transaction struct {
	executor
	tx *sql.Tx
}

func (t *Transaction) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *Transaction) Rollback(context.Context) error {
	return t.tx.Rollback()
}
