package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// Scope is the request-level dependency context of one Handle call.
// It owns at most one unit of work, created on first use and never shared
// with another scope.
type Scope struct {
	factory UnitOfWorkFactory

	mu     sync.Mutex
	uow    UnitOfWork
	closed bool
}

// NewScope creates a scope that obtains its unit of work from factory.
func NewScope(factory UnitOfWorkFactory) *Scope {
	return &Scope{factory: factory}
}

// UnitOfWork returns the scope's unit of work, creating it on first use.
func (s *Scope) UnitOfWork(ctx context.Context) (UnitOfWork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("scope is closed")
	}
	if s.uow != nil {
		return s.uow, nil
	}
	if s.factory == nil {
		return nil, errors.New("scope has no unit of work factory")
	}

	uow, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit of work: %w", err)
	}
	s.uow = uow
	return uow, nil
}

// Close ends the scope. The unit of work, if one was created, is always
// rolled back: callers persist by committing explicitly before Close.
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.uow == nil {
		return nil
	}
	return s.uow.Rollback(ctx)
}

// step binds the scope to the message being processed.
func (s *Scope) step(msg domain.Message) *Step {
	return &Step{scope: s, message: msg}
}

// Step is the dependency context of a single handler invocation.
type Step struct {
	scope   *Scope
	message domain.Message
}

// NewStep binds a scope to a message outside of the bus, e.g. in tests.
func NewStep(scope *Scope, msg domain.Message) *Step {
	return scope.step(msg)
}

// Message returns the message this step was created for.
func (s *Step) Message() domain.Message {
	return s.message
}

// UnitOfWork returns the unit of work of the enclosing scope.
func (s *Step) UnitOfWork(ctx context.Context) (UnitOfWork, error) {
	return s.scope.UnitOfWork(ctx)
}

// UnitOfWorkAs returns the step's unit of work as the concrete contract a
// bounded context expects.
func UnitOfWorkAs[T any](ctx context.Context, step *Step) (T, error) {
	var zero T
	uow, err := step.UnitOfWork(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := uow.(T)
	if !ok {
		return zero, fmt.Errorf("unit of work %T does not implement %T", uow, (*T)(nil))
	}
	return typed, nil
}
