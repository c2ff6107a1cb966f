// Package mq consumes imaging commands from RabbitMQ and sends them there.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

const (
	// CommandRoutingPrefix prefixes the routing key of every command.
	CommandRoutingPrefix = "imagery.commands."
	// CommandBinding matches every command routing key.
	CommandBinding = CommandRoutingPrefix + "#"

	consumerName = "CommandConsumer"
)

// CommandRoutingKey returns the routing key for a command tag.
func CommandRoutingKey(tag string) string {
	return CommandRoutingPrefix + tag
}

// Bus dispatches a root message within a scope.
type Bus interface {
	Handle(ctx context.Context, scope *sharedApplication.Scope, msg sharedDomain.Message) ([]any, error)
}

// CommandConsumer decodes tagged commands from broker deliveries and
// dispatches each one through the bus with a fresh scope.
type CommandConsumer struct {
	codec   *sharedApplication.Codec
	bus     Bus
	factory sharedApplication.UnitOfWorkFactory
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewCommandConsumer creates a command consumer.
func NewCommandConsumer(codec *sharedApplication.Codec, bus Bus, factory sharedApplication.UnitOfWorkFactory, logger *slog.Logger, metrics observability.Metrics) *CommandConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &CommandConsumer{
		codec:   codec,
		bus:     bus,
		factory: factory,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleDelivery implements eventbus.DeliveryHandler. Undecodable bodies and
// commands failing for reasons a retry cannot fix are logged and dropped;
// any other failure is returned so the delivery is requeued.
func (c *CommandConsumer) HandleDelivery(ctx context.Context, routingKey string, body []byte) (err error) {
	msg, err := c.codec.Decode(body)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to decode command", "routing_key", routingKey, "error", err)
		c.metrics.Counter(observability.MetricConsumerFailed, 1, observability.T("consumer", consumerName))
		return nil
	}
	if _, ok := msg.(sharedDomain.Command); !ok {
		c.logger.WarnContext(ctx, "ignoring non-command delivery", "routing_key", routingKey, "type", msg.MessageType())
		return nil
	}

	scope := sharedApplication.NewScope(c.factory)
	defer func() {
		if closeErr := scope.Close(ctx); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close scope: %w", closeErr))
		}
	}()

	if _, err := c.bus.Handle(ctx, scope, msg); err != nil {
		c.metrics.Counter(observability.MetricConsumerFailed, 1, observability.T("consumer", consumerName))
		if permanent(err) {
			c.logger.ErrorContext(ctx, "dropping failed command",
				"type", msg.MessageType(),
				"routing_key", routingKey,
				"error", err,
			)
			return nil
		}
		return err
	}

	c.metrics.Counter(observability.MetricConsumerHandled, 1, observability.T("consumer", consumerName))
	c.logger.InfoContext(ctx, "command consumed", "type", msg.MessageType(), "routing_key", routingKey)
	return nil
}

func permanent(err error) bool {
	for _, target := range []error{
		sharedDomain.ErrNotFound,
		sharedDomain.ErrNotImplemented,
		gallery.ErrInvalidImage,
		gallery.ErrInvalidTransformation,
		gallery.ErrEmptyName,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var _ eventbus.DeliveryHandler = (*CommandConsumer)(nil).HandleDelivery
