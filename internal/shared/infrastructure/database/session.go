package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSessionClosed is returned by a session used after Close.
var ErrSessionClosed = errors.New("database session is closed")

// Session is an Executor bound to one connection whose transaction is begun
// on first use. After Commit or Rollback the next statement begins a fresh
// transaction, so a session can commit several times.
type Session struct {
	conn Connection

	mu     sync.Mutex
	tx     Transaction
	closed bool
}

// NewSession creates a session over conn. No transaction is begun yet.
func NewSession(conn Connection) *Session {
	return &Session{conn: conn}
}

// Driver returns the driver of the underlying connection.
func (s *Session) Driver() Driver {
	return s.conn.Driver()
}

// Active reports whether a transaction is currently open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

func (s *Session) current(ctx context.Context) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.conn.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// Exec executes a statement inside the session transaction.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	tx, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return tx.Exec(ctx, query, args...)
}

// QueryRow executes a single-row query inside the session transaction.
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) Row {
	tx, err := s.current(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return tx.QueryRow(ctx, query, args...)
}

// Query executes a query inside the session transaction.
func (s *Session) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	tx, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return tx.Query(ctx, query, args...)
}

// Commit commits the open transaction, if any.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	if tx == nil {
		return nil
	}
	return tx.Commit(ctx)
}

// Rollback rolls back the open transaction, if any.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	if tx == nil {
		return nil
	}
	return tx.Rollback(ctx)
}

// Close rolls back any open transaction and rejects further statements.
// The connection itself stays open.
func (s *Session) Close(ctx context.Context) error {
	err := s.Rollback(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}
