package application

import (
	"context"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// CommandHandlerFunc handles one command and returns its result.
// The step carries the message-scoped dependencies.
type CommandHandlerFunc func(ctx context.Context, cmd domain.Command, step *Step) (any, error)

// EventHandlerFunc handles one event. Events produce no result.
type EventHandlerFunc func(ctx context.Context, event domain.Event, step *Step) error
