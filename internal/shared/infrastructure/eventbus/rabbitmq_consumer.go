package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// RabbitMQConsumerConfig configures a queue consumer.
type RabbitMQConsumerConfig struct {
	URL       string
	QueueName string
	// Exchange defaults to ExchangeName.
	Exchange string
	// Handler processes each delivery. Defaults to the HandleDelivery of the
	// registry passed to NewRabbitMQConsumer.
	Handler DeliveryHandler
	// Prefetch bounds unacknowledged deliveries. Defaults to 1.
	Prefetch int
	Logger   *slog.Logger
}

// RabbitMQConsumer feeds a durable queue bound to the topic exchange into a
// DeliveryHandler. A delivery whose handler fails is requeued.
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	exchange string
	prefetch int
	handler  DeliveryHandler
	logger   *slog.Logger

	running   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

// NewRabbitMQConsumer connects and declares the queue. Routing keys are bound
// with Bind before Start.
func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig, registry *ConsumerRegistry) (*RabbitMQConsumer, error) {
	if cfg.QueueName == "" {
		return nil, errors.New("queue name is required")
	}
	handler := cfg.Handler
	if handler == nil {
		if registry == nil {
			return nil, errors.New("a delivery handler or consumer registry is required")
		}
		handler = registry.HandleDelivery
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeName
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	conn, ch, err := dialTopic(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}
	_, err = ch.QueueDeclare(cfg.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = closeAMQP(conn, ch)
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.QueueName, err)
	}

	logger := cfg.Logger.With("queue", cfg.QueueName)
	logger.Info("RabbitMQ consumer connected", "exchange", cfg.Exchange)

	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		queue:    cfg.QueueName,
		exchange: cfg.Exchange,
		prefetch: cfg.Prefetch,
		handler:  handler,
		logger:   logger,
		closed:   make(chan struct{}),
	}, nil
}

// Bind routes messages matching the routing key pattern to the queue.
func (c *RabbitMQConsumer) Bind(pattern string) error {
	if err := c.channel.QueueBind(c.queue, pattern, c.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s to %s: %w", c.queue, pattern, err)
	}
	c.logger.Debug("queue bound", "routing_key", pattern)
	return nil
}

// Start consumes until ctx is done or Close is called. It blocks.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("consumer already running")
	}
	defer c.running.Store(false)

	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	deliveries, err := c.channel.Consume(c.queue,
		"",    // generated consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}
	c.logger.Info("consuming", "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				select {
				case <-c.closed:
					return nil
				default:
					return fmt.Errorf("delivery channel of %s closed", c.queue)
				}
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *RabbitMQConsumer) deliver(ctx context.Context, d amqp.Delivery) {
	if d.CorrelationId != "" {
		ctx = observability.WithCorrelationID(ctx, d.CorrelationId)
	}
	log := c.logger.With(
		"routing_key", d.RoutingKey,
		"message_id", d.MessageId,
		"redelivered", d.Redelivered,
	)

	start := time.Now()
	if err := c.handler(ctx, d.RoutingKey, d.Body); err != nil {
		log.ErrorContext(ctx, "delivery failed, requeueing",
			observability.ErrorKey, err,
			observability.DurationKey, time.Since(start).Milliseconds(),
		)
		if err := d.Nack(false, true); err != nil {
			log.ErrorContext(ctx, "failed to nack delivery", observability.ErrorKey, err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.ErrorContext(ctx, "failed to ack delivery", observability.ErrorKey, err)
		return
	}
	log.DebugContext(ctx, "delivery handled", observability.DurationKey, time.Since(start).Milliseconds())
}

// Close stops Start and closes the connection. It is safe to call twice.
func (c *RabbitMQConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = closeAMQP(c.conn, c.channel)
		c.logger.Info("RabbitMQ consumer closed")
	})
	return err
}
