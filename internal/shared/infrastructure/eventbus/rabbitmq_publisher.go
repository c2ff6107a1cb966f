package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// RabbitMQPublisher publishes persistent messages to the topic exchange.
// Every message carries a fresh message id and the correlation id of ctx.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewRabbitMQPublisher connects to url and declares ExchangeName.
func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dialTopic(url, ExchangeName)
	if err != nil {
		return nil, err
	}
	logger.Info("RabbitMQ publisher connected", "exchange", ExchangeName)

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		exchange: ExchangeName,
		logger:   logger,
	}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.openChannel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: observability.CorrelationIDFromContext(ctx),
		Timestamp:     time.Now().UTC(),
		Body:          payload,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.DebugContext(ctx, "message published",
		"routing_key", routingKey,
		"message_id", msg.MessageId,
		"size", len(payload),
	)
	return nil
}

// openChannel reopens the channel after the broker closed it, for example
// after a failed publish. A lost connection is not redialed.
func (p *RabbitMQPublisher) openChannel() (*amqp.Channel, error) {
	if !p.channel.IsClosed() {
		return p.channel, nil
	}
	if p.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to reopen channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.channel = ch
	p.logger.Info("RabbitMQ publisher channel reopened")
	return ch, nil
}

// Check reports whether the broker connection is still open.
func (p *RabbitMQPublisher) Check(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := closeAMQP(p.conn, p.channel); err != nil {
		return fmt.Errorf("failed to close RabbitMQ publisher: %w", err)
	}
	p.logger.Info("RabbitMQ publisher closed")
	return nil
}
