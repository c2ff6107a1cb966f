package application

import (
	"fmt"
	"runtime/debug"
)

// RecoveryError wraps a panic raised inside a handler with its stack trace.
type RecoveryError struct {
	PanicValue any
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.PanicValue)
}

// safeCall runs fn and converts a panic into a RecoveryError.
func safeCall(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &RecoveryError{
				PanicValue: r,
				StackTrace: string(debug.Stack()),
			}
		}
	}()
	return fn()
}
