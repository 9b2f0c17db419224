// File: cmd/droidprobe/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/droidprobe-cli/cmd"
	"github.com/xkilldash9x/droidprobe-cli/internal/observability"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// Ctrl+C and SIGTERM cancel the run context; the loop finishes the
	// current step and records the run as cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(130)
			return
		}
		osExit(1)
	}
}
