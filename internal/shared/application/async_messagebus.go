package application

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// Result is the outcome of one asynchronous dispatch.
type Result struct {
	Values []any
	Err    error
}

// AsyncMessageBus runs the same state machine as MessageBus on its own
// goroutine. Cancellation is observed before every unit-of-work retrieval and
// handler invocation; a handler already running is always awaited, so the
// scope is never closed underneath it.
type AsyncMessageBus struct {
	d *dispatcher
}

// NewAsyncMessageBus builds an asynchronous bus from a registration table.
func NewAsyncMessageBus(handlers *Handlers, logger *slog.Logger, metrics observability.Metrics) (*AsyncMessageBus, error) {
	d, err := newDispatcher(handlers, logger, metrics)
	if err != nil {
		return nil, err
	}
	d.yield = func(ctx context.Context) error { return ctx.Err() }
	return &AsyncMessageBus{d: d}, nil
}

// Dispatch starts processing msg and returns a channel that receives exactly
// one Result.
func (b *AsyncMessageBus) Dispatch(ctx context.Context, scope *Scope, msg domain.Message) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		values, err := b.d.run(ctx, scope, msg)
		out <- Result{Values: values, Err: err}
	}()
	return out
}

// Handle dispatches msg and waits for its result.
func (b *AsyncMessageBus) Handle(ctx context.Context, scope *Scope, msg domain.Message) ([]any, error) {
	res := <-b.Dispatch(ctx, scope, msg)
	return res.Values, res.Err
}
