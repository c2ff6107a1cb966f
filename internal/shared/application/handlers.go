package application

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

type commandBinding struct {
	name string
	fn   CommandHandlerFunc
}

type eventBinding struct {
	name string
	fn   EventHandlerFunc
}

// Handlers is the registration table handed to a message bus at startup.
// Commands map to exactly one handler; events map to an ordered list.
type Handlers struct {
	commands map[string]commandBinding
	events   map[string][]eventBinding
	errs     []error
}

// NewHandlers creates an empty registration table.
func NewHandlers() *Handlers {
	return &Handlers{
		commands: make(map[string]commandBinding),
		events:   make(map[string][]eventBinding),
	}
}

// Command registers fn for the command tag. Registering a tag twice is
// reported when the bus is built.
func (h *Handlers) Command(tag, name string, fn CommandHandlerFunc) *Handlers {
	if _, exists := h.commands[tag]; exists {
		h.errs = append(h.errs, fmt.Errorf("duplicate handler %q for command %s", name, tag))
		return h
	}
	h.commands[tag] = commandBinding{name: name, fn: fn}
	return h
}

// Event appends fn to the handlers of the event tag. Handlers run in
// registration order.
func (h *Handlers) Event(tag, name string, fn EventHandlerFunc) *Handlers {
	h.events[tag] = append(h.events[tag], eventBinding{name: name, fn: fn})
	return h
}

// OnCommand registers a typed command handler. C must be a value type whose
// zero value reports the command tag.
func OnCommand[C domain.Command, R any](h *Handlers, name string, fn func(ctx context.Context, cmd C, step *Step) (R, error)) {
	var zero C
	tag := zero.MessageType()
	h.Command(tag, name, func(ctx context.Context, cmd domain.Command, step *Step) (any, error) {
		typed, ok := cmd.(C)
		if !ok {
			return nil, fmt.Errorf("handler %s expects %T, got %T", name, zero, cmd)
		}
		return fn(ctx, typed, step)
	})
}

// OnEvent registers a typed event handler. E must be a value type whose zero
// value reports the event tag.
func OnEvent[E domain.Event](h *Handlers, name string, fn func(ctx context.Context, event E, step *Step) error) {
	var zero E
	tag := zero.MessageType()
	h.Event(tag, name, func(ctx context.Context, event domain.Event, step *Step) error {
		typed, ok := event.(E)
		if !ok {
			return fmt.Errorf("handler %s expects %T, got %T", name, zero, event)
		}
		return fn(ctx, typed, step)
	})
}

// freeze copies the table so the bus never observes later registrations.
func (h *Handlers) freeze() (map[string]commandBinding, map[string][]eventBinding, error) {
	if len(h.errs) > 0 {
		return nil, nil, h.errs[0]
	}
	commands := make(map[string]commandBinding, len(h.commands))
	for tag, binding := range h.commands {
		commands[tag] = binding
	}
	events := make(map[string][]eventBinding, len(h.events))
	for tag, bindings := range h.events {
		events[tag] = append([]eventBinding(nil), bindings...)
	}
	return commands, events, nil
}
