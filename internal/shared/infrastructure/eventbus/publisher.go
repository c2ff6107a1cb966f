package eventbus

import (
	"context"
	"log/slog"
)

// ExchangeName is the topic exchange carrying image events and queued commands.
const ExchangeName = "imagery.events"

// Publisher sends a payload to the broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// NoopPublisher drops every message. It replaces the broker in development
// when RabbitMQ cannot be reached.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that discards messages.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.DebugContext(ctx, "dropping message, no broker configured",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}
