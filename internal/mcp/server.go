// Package mcp runs the imagery MCP server over HTTP.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	mcpgo "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/middleware"

	mcplocal "github.com/felixgeelhaar/imagery/adapter/mcp"
	"github.com/felixgeelhaar/imagery/pkg/config"
)

// ServerName identifies the server to MCP clients.
const ServerName = "imagery-mcp"

// NewServer registers the image tools and resources on a fresh MCP server.
func NewServer(version string, deps mcplocal.ToolDependencies) (*mcpgo.Server, error) {
	srv := mcpgo.NewServer(mcpgo.ServerInfo{
		Name:         ServerName,
		Version:      version,
		Capabilities: mcpgo.Capabilities{Tools: true, Resources: true},
	})
	if err := mcplocal.RegisterTools(srv, deps); err != nil {
		return nil, err
	}
	if err := mcplocal.RegisterResources(srv, deps); err != nil {
		return nil, err
	}
	return srv, nil
}

// Serve listens on cfg.MCPAddr until ctx is canceled. Requests must carry
// cfg.MCPAuthToken as a bearer token when one is configured.
func Serve(ctx context.Context, cfg *config.Config, deps mcplocal.ToolDependencies, logger *slog.Logger) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := NewServer(cfg.ServiceVersion, deps)
	if err != nil {
		return err
	}

	logger.Info("mcp server listening", "addr", cfg.MCPAddr, "authenticated", cfg.MCPAuthToken != "")
	return mcpgo.ServeHTTPWithMiddleware(ctx, srv, cfg.MCPAddr, nil,
		mcpgo.WithMiddleware(middlewares(cfg.MCPAuthToken, logger)...))
}

// middlewares returns the default stack, preceded by bearer authentication
// when token is set.
func middlewares(token string, logger *slog.Logger) []middleware.Middleware {
	log := slogAdapter{logger}
	stack := middleware.DefaultStack(log)
	if token == "" {
		logger.Warn("mcp auth token not set, requests are unauthenticated")
		return stack
	}

	identities := middleware.StaticTokens(map[string]*middleware.Identity{
		token: {ID: "mcp", Name: "mcp"},
	})
	auth := middleware.Auth(middleware.BearerTokenAuthenticator(identities), middleware.WithAuthLogger(log))
	return append([]middleware.Middleware{auth}, stack...)
}

// slogAdapter routes mcp-go middleware logs to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(msg string, fields ...middleware.Field) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a slogAdapter) Info(msg string, fields ...middleware.Field) {
	a.logger.Info(msg, attrs(fields)...)
}

func (a slogAdapter) Warn(msg string, fields ...middleware.Field) {
	a.logger.Warn(msg, attrs(fields)...)
}

func (a slogAdapter) Error(msg string, fields ...middleware.Field) {
	a.logger.Error(msg, attrs(fields)...)
}

func attrs(fields []middleware.Field) []any {
	out := make([]any, 0, 2*len(fields))
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
