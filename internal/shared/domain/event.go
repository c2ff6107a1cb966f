package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is anything the message bus can dispatch.
// MessageType is the discriminant tag used for handler lookup and for
// (de)serialization at transport boundaries.
type Message interface {
	MessageType() string
}

// Command is an intent to change state. It has exactly one handler.
type Command interface {
	Message
	isCommand()
}

// Event is a notification that something happened. It has zero or more handlers.
type Event interface {
	Message
	EventID() uuid.UUID
	AggregateType() string
	AggregateID() string
	OccurredAt() time.Time
	Metadata() EventMetadata
	isEvent()
}

// EventMetadata contains tracing and context information for events.
type EventMetadata struct {
	CorrelationID uuid.UUID `json:"correlation_id,omitempty"`
	CausationID   uuid.UUID `json:"causation_id,omitempty"`
}

// BaseCommand marks a struct as a command.
type BaseCommand struct{}

func (BaseCommand) isCommand() {}

// BaseEvent provides common event functionality.
// Fields are exported so concrete events serialize with their identity.
type BaseEvent struct {
	ID        uuid.UUID     `json:"id"`
	Aggregate string        `json:"aggregate_type"`
	Ref       string        `json:"aggregate_id"`
	Timestamp time.Time     `json:"occurred_at"`
	Meta      EventMetadata `json:"metadata"`
}

// NewBaseEvent creates a new base event with a fresh identifier.
func NewBaseEvent(aggregateType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Aggregate: aggregateType,
		Ref:       aggregateID,
		Timestamp: time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() uuid.UUID      { return e.ID }
func (e BaseEvent) AggregateType() string   { return e.Aggregate }
func (e BaseEvent) AggregateID() string     { return e.Ref }
func (e BaseEvent) OccurredAt() time.Time   { return e.Timestamp }
func (e BaseEvent) Metadata() EventMetadata { return e.Meta }
func (BaseEvent) isEvent()                  {}

// SetMetadata sets the event metadata.
func (e *BaseEvent) SetMetadata(metadata EventMetadata) {
	e.Meta = metadata
}
