package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/clashpilot/internal/bootstrap"
	"github.com/creamcroissant/clashpilot/internal/support/logging"
	"github.com/creamcroissant/clashpilot/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse and switch proxy groups interactively",
	Long:  "Launch a terminal UI over the core's proxy groups. Selections are recorded under the active profile.",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	// The alt screen owns the terminal; log records would corrupt it.
	app, err := bootstrap.Build(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	scope, err := activeScope(ctx, app)
	if err != nil {
		return err
	}
	backend := tui.Bind(app.Groups, scope)
	if err := tui.Run(ctx, backend); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
