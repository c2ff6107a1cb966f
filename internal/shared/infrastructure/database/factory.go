package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config describes the store to open.
type Config struct {
	// Driver is detected from URL when empty.
	Driver Driver
	// URL is the PostgreSQL connection string.
	URL string
	// SQLitePath is the SQLite file. Defaults to ~/.imagery/imagery.db.
	SQLitePath string
	// MaxConns caps the PostgreSQL pool. Zero keeps the pgx default.
	MaxConns int
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
}

// Opener opens a connection for one driver.
type Opener func(ctx context.Context, cfg Config) (Connection, error)

var (
	openersMu sync.RWMutex
	openers   = map[Driver]Opener{}
)

// Register makes a driver available to Open. Driver packages call it from init.
func Register(driver Driver, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[driver] = open
}

// Open connects to the store described by cfg. The driver package must be
// imported for its side effect.
func Open(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.URL)
	}

	openersMu.RLock()
	open, ok := openers[driver]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database driver %q is not registered", driver)
	}
	return open(ctx, cfg)
}

// DefaultSQLitePath returns ~/.imagery/imagery.db, or a relative path when
// there is no home directory.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".imagery", "imagery.db")
}

// ConfigFromURL builds a Config from a single connection string.
// sqlite:// and file: prefixes are stripped to obtain the SQLite path.
func ConfigFromURL(url string) Config {
	driver := DetectDriver(url)
	if driver == DriverPostgres {
		return Config{Driver: driver, URL: url}
	}
	path := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite://"), "file:")
	if path == "" {
		path = DefaultSQLitePath()
	}
	return Config{Driver: DriverSQLite, URL: url, SQLitePath: path}
}
