package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docflow/internal/services"
)

// Exit codes let scripts tell retryable conditions from bad input.
const (
	exitFailure      = 1
	exitInvalid      = 2
	exitRetry        = 3
	exitConfirmation = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNotFound):
		return exitInvalid
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrLocked):
		return exitRetry
	case errors.Is(err, services.ErrConfirmationRequired):
		return exitConfirmation
	default:
		return exitFailure
	}
}
