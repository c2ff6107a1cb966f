package migrations

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

// Files returns the ordered .up.sql migration names for a driver.
func Files(driver database.Driver) ([]string, error) {
	dir, err := dirFor(driver)
	if err != nil {
		return nil, err
	}

	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)
	return upFiles, nil
}

// Run executes every migration for the connection's driver in order.
// Migrations use IF NOT EXISTS and are safe to run repeatedly.
func Run(ctx context.Context, conn database.Connection) error {
	dir, err := dirFor(conn.Driver())
	if err != nil {
		return err
	}
	files, err := Files(conn.Driver())
	if err != nil {
		return err
	}

	for _, file := range files {
		migration, err := migrationsFS.ReadFile(dir + "/" + file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		for _, stmt := range statements(string(migration)) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", file, err)
			}
		}
	}

	return nil
}

func dirFor(driver database.Driver) (string, error) {
	switch driver {
	case database.DriverSQLite:
		return "sqlite", nil
	case database.DriverPostgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

// statements splits a migration file on semicolons. pgx rejects multiple
// statements in one prepared Exec, so each is sent on its own.
func statements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
