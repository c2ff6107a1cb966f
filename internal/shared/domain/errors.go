package domain

import "errors"

var (
	// ErrNotFound is returned when a lookup finds no matching entity.
	ErrNotFound = errors.New("not found")

	// ErrNotImplemented is returned when no handler or strategy exists for a
	// message tag or a variant.
	ErrNotImplemented = errors.New("not implemented")
)
