package domain

import "time"

// Entity has an identity assigned by its repository. A new entity reports
// ID 0 until it has been stored.
type Entity interface {
	ID() int64
	CreatedAt() time.Time
	IsNew() bool
}

// EventSource carries messages produced as a side effect of state changes.
// TakeEvents detaches the pending messages, so a second call returns none.
type EventSource interface {
	TakeEvents() []Message
}

// AggregateRoot is an entity that a repository loads and stores as a whole.
type AggregateRoot interface {
	Entity
	EventSource
	Record(msg Message)
	PendingEvents() []Message
}

// BaseAggregateRoot implements AggregateRoot for embedding.
type BaseAggregateRoot struct {
	id        int64
	createdAt time.Time
	events    []Message
}

// NewBaseAggregateRoot starts an unsaved aggregate stamped with the current
// time.
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{createdAt: time.Now().UTC()}
}

// RestoreAggregateRoot rebuilds the base of a stored aggregate.
func RestoreAggregateRoot(id int64, createdAt time.Time) BaseAggregateRoot {
	return BaseAggregateRoot{id: id, createdAt: createdAt}
}

func (a *BaseAggregateRoot) ID() int64            { return a.id }
func (a *BaseAggregateRoot) CreatedAt() time.Time { return a.createdAt }
func (a *BaseAggregateRoot) IsNew() bool          { return a.id == 0 }

// AssignID sets the identifier generated by the store.
func (a *BaseAggregateRoot) AssignID(id int64) {
	a.id = id
}

// Record queues msg until the next TakeEvents.
func (a *BaseAggregateRoot) Record(msg Message) {
	a.events = append(a.events, msg)
}

// PendingEvents returns the queued messages without detaching them.
func (a *BaseAggregateRoot) PendingEvents() []Message {
	return a.events
}

func (a *BaseAggregateRoot) TakeEvents() []Message {
	events := a.events
	a.events = nil
	return events
}
