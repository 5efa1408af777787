// Unified entry point for fluorite-memory.
// `fluorite serve` starts the HTTP API; every other command runs once and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fluorite-memory/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.App().Run(ctx, os.Args); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "fluorite:", err)
		os.Exit(1)
	}
}
