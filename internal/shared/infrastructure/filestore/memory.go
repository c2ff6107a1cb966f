package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Memory keeps files in memory. It is used by tests and the local demo mode.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory creates an empty in-memory file system.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Create stores the contents of r under location.
func (m *Memory) Create(ctx context.Context, location string, r io.Reader) error {
	cleaned, err := Clean(location)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[cleaned] = data
	return nil
}

// Open returns a reader over a copy of the stored bytes.
func (m *Memory) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	cleaned, err := Clean(location)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[cleaned]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, location)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// Remove deletes location.
func (m *Memory) Remove(ctx context.Context, location string) error {
	cleaned, err := Clean(location)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[cleaned]; !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, location)
	}
	delete(m.files, cleaned)
	return nil
}

// Exists reports whether location exists.
func (m *Memory) Exists(ctx context.Context, location string) (bool, error) {
	cleaned, err := Clean(location)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[cleaned]
	return ok, nil
}

// Locations lists stored locations in lexical order.
func (m *Memory) Locations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for loc := range m.files {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
