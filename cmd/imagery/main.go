package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/imagery/adapter/cli"
	"github.com/felixgeelhaar/imagery/adapter/cli/mcp"
)

func main() {
	// Create context with cancellation on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Register commands
	cli.AddCommand(mcp.Cmd)

	// Execute CLI
	cli.Execute(ctx)
}
