// Package postgres registers the pgx backed PostgreSQL driver.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
)

const applicationName = "imagery"

// ErrLastInsertID is returned by Result.LastInsertId. Use RETURNING instead.
var ErrLastInsertID = errors.New("postgres: LastInsertId is not supported")

func init() {
	database.Register(database.DriverPostgres, Open)
}

// Open creates a connection pool for cfg.URL and checks it answers.
func Open(ctx context.Context, cfg database.Config) (database.Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required for PostgreSQL")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return &Connection{executor: executor{q: pool}, pool: pool}, nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// executor rewrites "?" placeholders into $n before running a statement.
type executor struct {
	q querier
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	tag, err := e.q.Exec(ctx, database.Rebind(database.DriverPostgres, query), args...)
	if err != nil {
		return nil, err
	}
	return result{tag: tag}, nil
}

func (e executor) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return database.NormalizeRow(e.q.QueryRow(ctx, database.Rebind(database.DriverPostgres, query), args...))
}

func (e executor) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	r, err := e.q.Query(ctx, database.Rebind(database.DriverPostgres, query), args...)
	if err != nil {
		return nil, err
	}
	return rows{Rows: r}, nil
}

// Connection is a PostgreSQL connection pool.
type Connection struct {
	executor
	pool *pgxpool.Pool
}

func (c *Connection) Driver() database.Driver {
	return database.DriverPostgres
}

func (c *Connection) Close() error {
	c.pool.Close()
	return nil
}

func (c *Connection) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Transaction{executor: executor{q: tx}, tx: tx}, nil
}

// Transaction is an open PostgreSQL transaction.
type Transaction struct {
	executor
	tx pgx.Tx
}

func (t *Transaction) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Transaction) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

type result struct {
	tag pgconn.CommandTag
}

func (r result) RowsAffected() (int64, error) {
	return r.tag.RowsAffected(), nil
}

func (r result) LastInsertId() (int64, error) {
	return 0, ErrLastInsertID
}

// rows adapts pgx.Rows, whose Close returns nothing.
type rows struct {
	pgx.Rows
}

func (r rows) Close() error {
	r.Rows.Close()
	return nil
}
