package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores files under a directory on disk.
type Local struct {
	root string
}

// NewLocal creates a local file system rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: dir}, nil
}

func (l *Local) path(location string) (string, error) {
	cleaned, err := Clean(location)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}

// Create writes r to location, replacing any existing file.
func (l *Local) Create(ctx context.Context, location string, r io.Reader) error {
	p, err := l.path(location)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Open returns a reader for location.
func (l *Local) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	p, err := l.path(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, location)
	}
	return f, err
}

// Remove deletes location.
func (l *Local) Remove(ctx context.Context, location string) error {
	p, err := l.path(location)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, location)
	}
	return err
}

// Exists reports whether location exists.
func (l *Local) Exists(ctx context.Context, location string) (bool, error) {
	p, err := l.path(location)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
