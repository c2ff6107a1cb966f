package subscribers

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/outbox"
)

// OutboxUnitOfWork is a unit of work that can stage outbox messages.
type OutboxUnitOfWork interface {
	sharedApplication.UnitOfWork
	Outbox() outbox.Repository
}

// OutboxRecorder stores integration events in the outbox so the processor
// publishes them after the fact.
type OutboxRecorder struct {
	logger *slog.Logger
}

// NewOutboxRecorder creates the subscriber.
func NewOutboxRecorder(logger *slog.Logger) *OutboxRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxRecorder{logger: logger}
}

// Handle saves the event in the outbox and commits.
func (r *OutboxRecorder) Handle(ctx context.Context, event sharedDomain.Event, step *sharedApplication.Step) error {
	uow, err := sharedApplication.UnitOfWorkAs[OutboxUnitOfWork](ctx, step)
	if err != nil {
		return err
	}

	msg, err := outbox.NewMessage(event)
	if err != nil {
		return err
	}
	if err := uow.Outbox().Save(ctx, msg); err != nil {
		return err
	}
	if err := uow.Commit(ctx); err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "event recorded in outbox",
		"event_id", event.EventID(),
		"event_type", event.MessageType(),
		"outbox_id", msg.ID,
	)
	return nil
}

// Register binds the recorder to every integration event.
func (r *OutboxRecorder) Register(h *sharedApplication.Handlers) {
	for _, tag := range []string{
		gallery.TypeImageUploaded,
		gallery.TypeImageTransformed,
		gallery.TypeTransformationCountsSynced,
	} {
		h.Event(tag, "OutboxRecorder", r.Handle)
	}
}
