// Package mcp holds the "imagery mcp" commands.
package mcp

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/imagery/adapter/cli"
	"github.com/felixgeelhaar/imagery/internal/app"
	mcpinternal "github.com/felixgeelhaar/imagery/internal/mcp"
)

// Cmd groups the MCP subcommands.
var Cmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose imagery to MCP clients",
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the image tools over MCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.WithContainer(cmd, func(c *app.Container) error {
			return runServe(cmd, c)
		})
	},
}

func runServe(cmd *cobra.Command, c *app.Container) error {
	if serveAddr != "" {
		c.Config.MCPAddr = serveAddr
	}
	if c.Config.OutboxProcessorEnabled {
		if err := c.OutboxProcessor.Start(cmd.Context()); err != nil {
			return err
		}
	}

	err := mcpinternal.Serve(cmd.Context(), c.Config, mcpinternal.NewToolDependencies(c), cli.Logger())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides MCP_ADDR)")
	Cmd.AddCommand(serveCmd)
}
