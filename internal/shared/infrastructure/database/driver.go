package database

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Driver names a database backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DetectDriver picks the backend for a connection string. An empty string
// selects SQLite so the service runs without any database configured.
// Anything unrecognised is handed to PostgreSQL.
func DetectDriver(url string) Driver {
	if url == "" {
		return DriverSQLite
	}
	scheme, _, found := strings.Cut(url, ":")
	if found {
		switch strings.ToLower(scheme) {
		case "postgres", "postgresql":
			return DriverPostgres
		case "sqlite", "file":
			return DriverSQLite
		}
	}
	switch filepath.Ext(url) {
	case ".db", ".sqlite", ".sqlite3":
		return DriverSQLite
	}
	return DriverPostgres
}

// Rebind numbers the "?" placeholders of query as $1, $2, ... for
// PostgreSQL. Question marks inside single-quoted literals are kept.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}

	out := make([]byte, 0, len(query)+8)
	n, quoted := 0, false
	for i := range len(query) {
		switch c := query[i]; {
		case c == '\'':
			quoted = !quoted
			out = append(out, c)
		case c == '?' && !quoted:
			n++
			out = append(out, '$')
			out = strconv.AppendInt(out, int64(n), 10)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// Placeholders renders n "?" placeholders for an IN list.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
