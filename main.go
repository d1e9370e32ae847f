// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/claimpilot/cmd"
)

// main is the entry point for the claimpilot CLI.
func main() {
	// Interrupt signals cancel the run context so the pipeline can stop at
	// the next step boundary instead of being killed mid-interaction.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
