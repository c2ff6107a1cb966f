// Package filestore stores image files behind a small FileSystem port and
// stages writes so a unit of work can undo them.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotExist is returned when a location does not exist.
	ErrNotExist = errors.New("file does not exist")
	// ErrInvalidLocation is returned for empty locations or ones escaping the root.
	ErrInvalidLocation = errors.New("invalid location")
)

// FileSystem is the storage port used by the registry.
// Locations are slash separated and relative to the backend root.
type FileSystem interface {
	Create(ctx context.Context, location string, r io.Reader) error
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Remove(ctx context.Context, location string) error
	Exists(ctx context.Context, location string) (bool, error)
}

// Clean normalizes a location and rejects paths escaping the root.
func Clean(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocation)
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(location, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	for _, part := range strings.Split(location, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidLocation, location)
		}
	}
	return cleaned, nil
}
