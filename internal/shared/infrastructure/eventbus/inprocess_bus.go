package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// InProcessEventBus delivers published events to the consumer registry before
// Publish returns. It replaces RabbitMQ in local mode.
type InProcessEventBus struct {
	mu       sync.Mutex
	registry *ConsumerRegistry
	logger   *slog.Logger
}

// NewInProcessEventBus creates a bus over registry, or over an empty registry
// when nil.
func NewInProcessEventBus(registry *ConsumerRegistry, logger *slog.Logger) *InProcessEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewConsumerRegistry(logger, nil)
	}
	return &InProcessEventBus{registry: registry, logger: logger}
}

// Publish dispatches the CloudEvents payload synchronously. Consumer failures
// are logged and not returned: the outbox must not redeliver an event that
// some consumers already handled.
func (b *InProcessEventBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.registry.HandleDelivery(ctx, routingKey, payload); err != nil {
		b.logger.WarnContext(ctx, "in-process delivery incomplete",
			"routing_key", routingKey,
			observability.ErrorKey, err,
		)
	}
	return nil
}

func (b *InProcessEventBus) Close() error {
	return nil
}
