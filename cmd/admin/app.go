package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/app"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/config"
)

// openApp loads configuration and builds a migrated App. On failure it prints
// the error and returns a nil App with the exit status to use.
func openApp(ctx context.Context) (*app.App, subcommands.ExitStatus) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return nil, subcommands.ExitFailure
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, subcommands.ExitFailure
	}
	if err := a.Migrate(ctx); err != nil {
		a.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, subcommands.ExitFailure
	}
	return a, subcommands.ExitSuccess
}
