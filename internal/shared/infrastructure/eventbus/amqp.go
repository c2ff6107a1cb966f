package eventbus

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrConnectionClosed is returned once the broker connection is gone.
var ErrConnectionClosed = errors.New("rabbitmq connection closed")

// dialTopic connects to url and declares the durable topic exchange.
func dialTopic(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = closeAMQP(conn, ch)
		return nil, nil, err
	}
	return conn, ch, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

func closeAMQP(conn *amqp.Connection, ch *amqp.Channel) error {
	var errs []error
	if ch != nil && !ch.IsClosed() {
		errs = append(errs, ch.Close())
	}
	if conn != nil && !conn.IsClosed() {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}
