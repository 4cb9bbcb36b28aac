package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samzong/qualgate/cmd"
	"github.com/samzong/qualgate/internal/clierr"
)

func main() {
	// Cancelling the context kills running tools and lets the workspace
	// cleanup run before exit.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled")
			os.Exit(clierr.CodeInterrupted)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(clierr.ExitCodeOf(err))
	}
}
