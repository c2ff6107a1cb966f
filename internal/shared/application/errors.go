package application

import (
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned when a queued value is neither a command nor an event.
var ErrUnknownMessage = errors.New("message is neither a command nor an event")

// HandlerError wraps a failure raised by a command handler.
type HandlerError struct {
	MessageType string
	Handler     string
	Err         error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed for %s: %v", e.Handler, e.MessageType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
