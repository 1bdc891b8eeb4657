package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"

	"github.com/XylarDark/DevEnvTemplate-sub002/internal/cli"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/engine"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/version"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := fang.Execute(ctx, cli.NewRootCmd(),
		fang.WithVersion(version.GetVersion()),
		fang.WithErrorHandler(cli.ErrorHandler),
	)
	if err != nil {
		// The fail-on-actions gate gets its own status so CI can tell
		// "cleanup would change files" from a genuine failure.
		if errors.Is(err, engine.ErrActionsDetected) {
			os.Exit(2) //nolint:mnd
		}

		os.Exit(1)
	}
}
