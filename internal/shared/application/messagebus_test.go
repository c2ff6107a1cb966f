package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMessageBus_ProcessesQueueInFIFOOrder(t *testing.T) {
	ctx := context.Background()
	var trace []string

	h := NewHandlers()
	OnCommand(h, "start", func(ctx context.Context, cmd startCommand, step *Step) (string, error) {
		trace = append(trace, "start:"+cmd.Name)
		return "started", emit(ctx, step, happened("a"), other("b"))
	})
	OnEvent(h, "on-something", func(ctx context.Context, evt somethingHappened, step *Step) error {
		trace = append(trace, "something:"+evt.Name)
		return emit(ctx, step, followUpCommand{Name: "c"})
	})
	OnEvent(h, "on-other", func(ctx context.Context, evt otherHappened, step *Step) error {
		trace = append(trace, "other:"+evt.Name)
		return nil
	})
	OnCommand(h, "follow-up", func(ctx context.Context, cmd followUpCommand, step *Step) (string, error) {
		trace = append(trace, "follow-up:"+cmd.Name)
		return "followed", nil
	})

	bus, err := NewMessageBus(h, quietLogger(), nil)
	require.NoError(t, err)

	results, err := bus.Handle(ctx, scopeWith(newFakeUnitOfWork()), startCommand{Name: "root"})
	require.NoError(t, err)

	assert.Equal(t, []string{"start:root", "something:a", "other:b", "follow-up:c"}, trace)
	assert.Equal(t, []any{"started", "followed"}, results)
}

func TestMessageBus_HarvestsEachEventOnce(t *testing.T) {
	ctx := context.Background()
	calls := 0

	h := NewHandlers()
	OnCommand(h, "start", func(ctx context.Context, cmd startCommand, step *Step) (int, error) {
		return 1, emit(ctx, step, happened("once"))
	})
	OnEvent(h, "first", func(ctx context.Context, evt somethingHappened, step *Step) error {
		calls++
		return nil
	})
	OnEvent(h, "second", func(ctx context.Context, evt somethingHappened, step *Step) error {
		calls++
		return nil
	})

	bus, err := NewMessageBus(h, quietLogger(), nil)
	require.NoError(t, err)

	_, err = bus.Handle(ctx, scopeWith(newFakeUnitOfWork()), startCommand{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "each handler sees the event exactly once")
}

func TestMessageBus_EventHandlerFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewInMemoryMetrics()
	var ran []string

	h := NewHandlers()
	OnCommand(h, "start", func(ctx context.Context, cmd startCommand, step *Step) (string, error) {
		return "ok", emit(ctx, step, happened("x"))
	})
	OnEvent(h, "fails", func(ctx context.Context, evt somethingHappened, step *Step) error {
		ran = append(ran, "fails")
		_ = emit(ctx, step, other("from-failed"))
		return errors.New("boom")
	})
	OnEvent(h, "panics", func(ctx context.Context, evt somethingHappened, step *Step) error {
		ran = append(ran, "panics")
		panic("kaboom")
	})
	OnEvent(h, "succeeds", func(ctx context.Context, evt somethingHappened, step *Step) error {
		ran = append(ran, "succeeds")
		return nil
	})
	OnEvent(h, "other", func(ctx context.Context, evt otherHappened, step *Step) error {
		ran = append(ran, "other:"+evt.Name)
		return nil
	})

	bus, err := NewMessageBus(h, quietLogger(), metrics)
	require.NoError(t, err)

	results, err := bus.Handle(ctx, scopeWith(newFakeUnitOfWork()), startCommand{})
	require.NoError(t, err)
	assert.Equal(t, []any{"ok"}, results)
	// Events emitted by a failed handler remain in the unit of work and are
	// harvested after the next successful handler.
	assert.Equal(t, []string{"fails", "panics", "succeeds", "other:from-failed"}, ran)
	assert.Equal(t, int64(2), metrics.GetCounter("bus.event.failed", observability.T("event", "something-happened")))
}

func TestMessageBus_CommandFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	eventHandled := false

	h := NewHandlers()
	OnCommand(h, "start", func(ctx context.Context, cmd startCommand, step *Step) (string, error) {
		return "first", emit(ctx, step, followUpCommand{}, happened("late"))
	})
	OnCommand(h, "follow-up", func(ctx context.Context, cmd followUpCommand, step *Step) (string, error) {
		return "", errors.New("rejected")
	})
	OnEvent(h, "late", func(ctx context.Context, evt somethingHappened, step *Step) error {
		eventHandled = true
		return nil
	})

	bus, err := NewMessageBus(h, quietLogger(), nil)
	require.NoError(t, err)

	results, err := bus.Handle(ctx, scopeWith(newFakeUnitOfWork()), startCommand{})
	require.Error(t, err)

	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "follow-up-command", handlerErr.MessageType)
	assert.Equal(t, "follow-up", handlerErr.Handler)
	assert.EqualError(t, handlerErr.Err, "rejected")
	assert.Equal(t, []any{"first"}, results)
	assert.False(t, eventHandled, "queued events are abandoned")
}

func TestMessageBus_CommandPanicIsRecovered(t *testing.T) {
	h := NewHandlers()
	OnCommand(h, "start", func(ctx context.Context, cmd startCommand, step *Step) (string, error) {
		panic("broken")
	})
	bus, err := NewMessageBus(h, quietLogger(), nil)
	require.NoError(t, err)

	_, err = bus.Handle(context.Background(), scopeWith(newFakeUnitOfWork()), startCommand{})

	var recovered *RecoveryError
	require.ErrorAs(t, err, &recovered)
	assert.Equal(t, "broken", recovered.PanicValue)
	assert.NotEmpty(t, recovered.StackTrace)
}

func TestMessageBus_MissingCommandHandler(t *testing.T) {
	bus, err := NewMessageBus(NewHandlers(), quietLogger(), nil)
	require.NoError(t, err)

	results, err := bus.Handle(context.Background(), scopeWith(newFakeUnitOfWork()), startCommand{})
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
	assert.Empty(t, results)
}

func TestMessageBus_UnhandledEventStillDrains(t *testing.T) {
	ctx := context.Background()
	uow := newFakeUnitOfWork()
	uow.Emit(followUpCommand{Name: "drained"})
	var followed []string

	h := NewHandlers()
	OnCommand(h, "follow-up", func(ctx context.Context, cmd followUpCommand, step *Step) (string, error) {
		followed = append(followed, cmd.Name)
		return cmd.Name, nil
	})
	metrics := observability.NewInMemoryMetrics()
	bus, err := NewMessageBus(h, quietLogger(), metrics)
	require.NoError(t, err)

	results, err := bus.Handle(ctx, scopeWith(uow), happened("nobody-listens"))
	require.NoError(t, err)
	assert.Equal(t, []any{"drained"}, results)
	assert.Equal(t, []string{"drained"}, followed)
	assert.Equal(t, int64(1), metrics.GetCounter("bus.event.unhandled", observability.T("event", "something-happened")))
}

func TestMessageBus_EventRootReturnsEmptyResults(t *testing.T) {
	h := NewHandlers()
	OnEvent(h, "noop", func(ctx context.Context, evt somethingHappened, step *Step) error { return nil })
	bus, err := NewMessageBus(h, quietLogger(), nil)
	require.NoError(t, err)

	results, err := bus.Handle(context.Background(), scopeWith(newFakeUnitOfWork()), happened("root"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

type notAMessage struct{}

func (notAMessage) MessageType() string { return "nothing" }

func TestMessageBus_UnknownMessage(t *testing.T) {
	bus, err := NewMessageBus(NewHandlers(), quietLogger(), nil)
	require.NoError(t, err)

	_, err = bus.Handle(context.Background(), scopeWith(newFakeUnitOfWork()), notAMessage{})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestMessageBus_UnitOfWorkFailurePropagates(t *testing.T) {
	h := NewHandlers()
	OnCommand(h, "start", func(ctx context.Context, cmd startCommand, step *Step) (string, error) {
		t.Fatal("handler must not run")
		return "", nil
	})
	bus, err := NewMessageBus(h, quietLogger(), nil)
	require.NoError(t, err)

	scope := NewScope(func(context.Context) (UnitOfWork, error) {
		return nil, errors.New("database unavailable")
	})
	_, err = bus.Handle(context.Background(), scope, startCommand{})
	assert.ErrorContains(t, err, "database unavailable")
}

func TestNewMessageBus_RejectsDuplicateCommandHandlers(t *testing.T) {
	h := NewHandlers()
	OnCommand(h, "one", func(ctx context.Context, cmd startCommand, step *Step) (int, error) { return 1, nil })
	OnCommand(h, "two", func(ctx context.Context, cmd startCommand, step *Step) (int, error) { return 2, nil })

	_, err := NewMessageBus(h, quietLogger(), nil)
	assert.ErrorContains(t, err, "duplicate handler")
}

func TestMessageBus_TableIsCopied(t *testing.T) {
	h := NewHandlers()
	bus, err := NewMessageBus(h, quietLogger(), nil)
	require.NoError(t, err)

	OnCommand(h, "late", func(ctx context.Context, cmd startCommand, step *Step) (int, error) { return 1, nil })

	_, err = bus.Handle(context.Background(), scopeWith(newFakeUnitOfWork()), startCommand{})
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
}
