package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// EventSource prefixes the CloudEvents source of every relayed event.
const EventSource = "/imagery"

// Message is one row of the outbox. Payload is a structured-mode CloudEvents
// JSON document; Metadata is the encoded domain.EventMetadata.
type Message struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	RoutingKey    string
	Payload       json.RawMessage
	Metadata      json.RawMessage
	CreatedAt     time.Time

	Delivery
}

// Delivery tracks the relay attempts of a message. A message is pending
// until it is either published or dead-lettered.
type Delivery struct {
	PublishedAt      *time.Time
	NextRetryAt      *time.Time
	RetryCount       int
	LastError        *string
	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// RoutingKey maps an event type onto the broker routing key.
func RoutingKey(eventType string) string {
	return "imagery." + eventType
}

// NewMessage stages event for the outbox.
func NewMessage(event domain.Event) (*Message, error) {
	ce, err := envelope(event)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cloud event: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata())
	if err != nil {
		return nil, fmt.Errorf("failed to encode event metadata: %w", err)
	}

	tag := event.MessageType()
	return &Message{
		EventID:       event.EventID(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		EventType:     tag,
		RoutingKey:    RoutingKey(tag),
		Payload:       payload,
		Metadata:      metadata,
		CreatedAt:     event.OccurredAt(),
	}, nil
}

// envelope wraps event in a CloudEvent. The correlation id travels as the
// "correlationid" extension.
func envelope(event domain.Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(event.EventID().String())
	ce.SetType(event.MessageType())
	ce.SetSource(EventSource + "/" + event.AggregateType())
	ce.SetSubject(event.AggregateID())
	ce.SetTime(event.OccurredAt())

	if id := event.Metadata().CorrelationID; id != uuid.Nil {
		ce.SetExtension("correlationid", id.String())
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, event); err != nil {
		return ce, fmt.Errorf("failed to set event data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return ce, fmt.Errorf("invalid cloud event: %w", err)
	}
	return ce, nil
}

// CloudEvent decodes the payload.
func (m *Message) CloudEvent() (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	if err := json.Unmarshal(m.Payload, &ce); err != nil {
		return ce, fmt.Errorf("failed to decode cloud event: %w", err)
	}
	return ce, nil
}
