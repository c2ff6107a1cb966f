package application

import "context"

// Query asks for state without changing it. Queries do not travel through the
// message bus; their handlers read through a unit of work that is never
// committed.
type Query interface {
	QueryName() string
}

// QueryHandler answers a single query type.
type QueryHandler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

// QueryFunc adapts a plain function to QueryHandler.
type QueryFunc[Q Query, R any] func(ctx context.Context, query Q) (R, error)

func (f QueryFunc[Q, R]) Handle(ctx context.Context, query Q) (R, error) {
	return f(ctx, query)
}
