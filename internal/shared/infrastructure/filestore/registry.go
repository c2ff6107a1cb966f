package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Registry stages file writes for a unit of work.
// Add writes immediately and remembers the location; Commit forgets the
// staged locations; Rollback deletes them. Remove is immediate and is not
// undone by Rollback.
type Registry struct {
	fs     FileSystem
	logger *slog.Logger

	mu     sync.Mutex
	staged []string
}

// NewRegistry creates a registry over fs.
func NewRegistry(fs FileSystem, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{fs: fs, logger: logger}
}

// FileSystem returns the backing file system.
func (r *Registry) FileSystem() FileSystem {
	return r.fs
}

// Add writes the contents of src to location and stages it.
func (r *Registry) Add(ctx context.Context, location string, src io.Reader) error {
	if err := r.fs.Create(ctx, location, src); err != nil {
		return fmt.Errorf("failed to store %s: %w", location, err)
	}
	r.mu.Lock()
	r.staged = append(r.staged, location)
	r.mu.Unlock()
	return nil
}

// Open reads a stored file.
func (r *Registry) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return r.fs.Open(ctx, location)
}

// Remove deletes location right away.
func (r *Registry) Remove(ctx context.Context, location string) error {
	return r.fs.Remove(ctx, location)
}

// Staged returns the locations written since the last commit or rollback.
func (r *Registry) Staged() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.staged...)
}

// Commit keeps every staged file.
func (r *Registry) Commit(ctx context.Context) error {
	r.mu.Lock()
	r.staged = nil
	r.mu.Unlock()
	return nil
}

// Rollback deletes every staged file. Files that are already gone are
// ignored; other failures are joined and returned after every file was tried.
func (r *Registry) Rollback(ctx context.Context) error {
	r.mu.Lock()
	staged := r.staged
	r.staged = nil
	r.mu.Unlock()

	var errs []error
	for _, location := range staged {
		err := r.fs.Remove(ctx, location)
		if err == nil || errors.Is(err, ErrNotExist) {
			continue
		}
		r.logger.WarnContext(ctx, "failed to remove staged file", "location", location, "error", err)
		errs = append(errs, fmt.Errorf("remove %s: %w", location, err))
	}
	return errors.Join(errs...)
}
