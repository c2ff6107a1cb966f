package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// dispatcher is the queue-driven state machine shared by both buses.
// It holds no per-call state.
type dispatcher struct {
	commands map[string]commandBinding
	events   map[string][]eventBinding
	logger   *slog.Logger
	metrics  observability.Metrics
	// yield is consulted before every suspension point.
	yield func(ctx context.Context) error
}

func newDispatcher(handlers *Handlers, logger *slog.Logger, metrics observability.Metrics) (*dispatcher, error) {
	if handlers == nil {
		handlers = NewHandlers()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	commands, events, err := handlers.freeze()
	if err != nil {
		return nil, err
	}
	return &dispatcher{
		commands: commands,
		events:   events,
		logger:   logger,
		metrics:  metrics,
		yield:    func(context.Context) error { return nil },
	}, nil
}

// run drains the queue seeded with msg. Results of successful command
// handlers are returned in the order they completed.
func (d *dispatcher) run(ctx context.Context, scope *Scope, msg domain.Message) ([]any, error) {
	results := make([]any, 0, 1)
	queue := []domain.Message{msg}

	for len(queue) > 0 {
		if err := d.yield(ctx); err != nil {
			return results, err
		}

		next := queue[0]
		queue[0] = nil
		queue = queue[1:]

		msgCtx := observability.WithMessageType(ctx, next.MessageType())
		switch m := next.(type) {
		case domain.Event:
			emitted, err := d.handleEvent(msgCtx, scope, m)
			if err != nil {
				return results, err
			}
			queue = append(queue, emitted...)
		case domain.Command:
			result, emitted, err := d.handleCommand(msgCtx, scope, m)
			if err != nil {
				return results, err
			}
			results = append(results, result)
			queue = append(queue, emitted...)
		default:
			return results, fmt.Errorf("%w: %T", ErrUnknownMessage, next)
		}
	}

	return results, nil
}

func (d *dispatcher) handleEvent(ctx context.Context, scope *Scope, event domain.Event) ([]domain.Message, error) {
	uow, err := scope.UnitOfWork(ctx)
	if err != nil {
		return nil, err
	}

	tag := event.MessageType()
	bindings := d.events[tag]
	if len(bindings) == 0 {
		d.logger.WarnContext(ctx, "no handlers registered for event", "event", tag)
		d.metrics.Counter(observability.MetricEventUnhandled, 1, observability.T("event", tag))
		return slices.Collect(uow.CollectNewEvents()), nil
	}

	var emitted []domain.Message
	for _, binding := range bindings {
		if err := d.yield(ctx); err != nil {
			return emitted, err
		}

		start := time.Now()
		_, err := safeCall(func() (any, error) {
			return nil, binding.fn(ctx, event, scope.step(event))
		})
		d.metrics.Timing(observability.MetricEventDuration, time.Since(start), observability.T("handler", binding.name))
		if err != nil {
			d.logger.ErrorContext(ctx, "event handler failed",
				"event", tag,
				"handler", binding.name,
				"error", err,
			)
			d.metrics.Counter(observability.MetricEventFailed, 1, observability.T("event", tag))
			continue
		}

		d.logger.DebugContext(ctx, "handled event", "event", tag, "handler", binding.name)
		d.metrics.Counter(observability.MetricEventHandled, 1, observability.T("event", tag))
		emitted = append(emitted, slices.Collect(uow.CollectNewEvents())...)
	}

	return emitted, nil
}

func (d *dispatcher) handleCommand(ctx context.Context, scope *Scope, cmd domain.Command) (any, []domain.Message, error) {
	uow, err := scope.UnitOfWork(ctx)
	if err != nil {
		return nil, nil, err
	}

	tag := cmd.MessageType()
	binding, ok := d.commands[tag]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no handler for command %s", domain.ErrNotImplemented, tag)
	}

	if err := d.yield(ctx); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	result, err := safeCall(func() (any, error) {
		return binding.fn(ctx, cmd, scope.step(cmd))
	})
	d.metrics.Timing(observability.MetricCommandDuration, time.Since(start), observability.T("handler", binding.name))
	if err != nil {
		d.logger.ErrorContext(ctx, "command handler failed",
			"command", tag,
			"handler", binding.name,
			"error", err,
		)
		d.metrics.Counter(observability.MetricCommandFailed, 1, observability.T("command", tag))
		return nil, nil, &HandlerError{MessageType: tag, Handler: binding.name, Err: err}
	}

	d.logger.DebugContext(ctx, "handled command", "command", tag, "handler", binding.name)
	d.metrics.Counter(observability.MetricCommandHandled, 1, observability.T("command", tag))
	return result, slices.Collect(uow.CollectNewEvents()), nil
}

// MessageBus dispatches a root message and every message it causes, one at
// a time, on the caller's goroutine.
//
// A MessageBus holds no per-call state and may be shared across goroutines,
// provided each call uses its own Scope.
type MessageBus struct {
	d *dispatcher
}

// NewMessageBus builds a bus from a registration table. The table is copied.
func NewMessageBus(handlers *Handlers, logger *slog.Logger, metrics observability.Metrics) (*MessageBus, error) {
	d, err := newDispatcher(handlers, logger, metrics)
	if err != nil {
		return nil, err
	}
	return &MessageBus{d: d}, nil
}

// Handle processes msg and the messages its handlers cause until the queue
// is empty. It returns the results of the command handlers in completion
// order. A failing command aborts processing and the results gathered so far
// are returned along with the error; failing event handlers are logged and
// skipped.
func (b *MessageBus) Handle(ctx context.Context, scope *Scope, msg domain.Message) ([]any, error) {
	return b.d.run(ctx, scope, msg)
}
