// Package observability holds the logging, metrics, timing and health
// plumbing shared by every imagery process.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is one of debug, info, warn or error. Anything else means info.
	Level string
	// Format is "json" or "text".
	Format    string
	Output    io.Writer
	AddSource bool

	ServiceName    string
	ServiceVersion string
}

// LogConfigFor derives a logger configuration from the application settings.
// Production always logs JSON with source locations to stdout.
func LogConfigFor(appEnv, level, format, version string) LogConfig {
	cfg := LogConfig{
		Level:          level,
		Format:         format,
		Output:         os.Stderr,
		ServiceName:    "imagery",
		ServiceVersion: version,
	}
	if appEnv == "production" {
		cfg.Format = "json"
		cfg.Output = os.Stdout
		cfg.AddSource = true
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	return cfg
}

// NewLogger builds a slog logger. Records logged with a context carry the
// correlation id, request id and message type stored on it.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level), AddSource: cfg.AddSource}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	var attrs []slog.Attr
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, slog.String("version", cfg.ServiceVersion))
	}
	if len(attrs) > 0 {
		h = h.WithAttrs(attrs)
	}
	return slog.New(contextHandler{h})
}

func levelOf(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// contextHandler copies the request scoped values of ctx onto each record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, kv := range [...]struct{ key, value string }{
		{CorrelationIDKey, CorrelationIDFromContext(ctx)},
		{RequestIDKey, RequestIDFromContext(ctx)},
		{MessageTypeKey, MessageTypeFromContext(ctx)},
	} {
		if kv.value != "" {
			r.AddAttrs(slog.String(kv.key, kv.value))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
