package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventConsumer handles specific event types.
type EventConsumer interface {
	// Name identifies the consumer in logs.
	Name() string

	// EventTypes returns the routing keys this consumer handles,
	// e.g. ["imagery.image-transformed"].
	EventTypes() []string

	// Handle processes the event.
	Handle(ctx context.Context, event *ConsumedEvent) error
}

// ConsumedEvent represents an event received from the message bus.
type ConsumedEvent struct {
	EventID       uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   string
	RoutingKey    string
	OccurredAt    time.Time
	CorrelationID string
	Payload       json.RawMessage
}

// DecodeConsumedEvent reads a structured-mode CloudEvents document.
// The routing key of the delivery is kept alongside the event.
func DecodeConsumedEvent(routingKey string, body []byte) (*ConsumedEvent, error) {
	ce := cloudevents.NewEvent()
	if err := json.Unmarshal(body, &ce); err != nil {
		return nil, fmt.Errorf("failed to decode cloud event: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloud event: %w", err)
	}

	id, err := uuid.Parse(ce.ID())
	if err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", ce.ID(), err)
	}

	event := &ConsumedEvent{
		EventID:       id,
		EventType:     ce.Type(),
		AggregateType: ce.Source()[strings.LastIndex(ce.Source(), "/")+1:],
		AggregateID:   ce.Subject(),
		RoutingKey:    routingKey,
		OccurredAt:    ce.Time(),
		Payload:       json.RawMessage(ce.Data()),
	}
	if v, ok := ce.Extensions()["correlationid"].(string); ok {
		event.CorrelationID = v
	}
	return event, nil
}

// DeliveryHandler processes the raw body of one broker delivery.
type DeliveryHandler func(ctx context.Context, routingKey string, body []byte) error
