package application

import (
	"context"
	"iter"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// UnitOfWork is a transactional scope over one or more repositories.
//
// Commit persists every owned resource; Rollback reverses whatever is still
// staged. Both may be called more than once within a scope. CollectNewEvents
// lazily yields every message produced since the previous call, exactly once.
type UnitOfWork interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	CollectNewEvents() iter.Seq[domain.Message]
}

// UnitOfWorkFactory creates a fresh unit of work. It may block, for example
// while a connection is acquired on first use.
type UnitOfWorkFactory func(ctx context.Context) (UnitOfWork, error)

// UnitOfWorkFunc is a function that executes within a unit of work.
type UnitOfWorkFunc func(ctx context.Context) error

// WithUnitOfWork executes fn and commits when it succeeds.
// The unit is rolled back on exit in every case; after a successful commit
// there is nothing left to roll back.
func WithUnitOfWork(ctx context.Context, uow UnitOfWork, fn UnitOfWorkFunc) error {
	defer func() { _ = uow.Rollback(ctx) }()

	if err := fn(ctx); err != nil {
		return err
	}

	return uow.Commit(ctx)
}
