package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/clashpilot/internal/bootstrap"
	"github.com/creamcroissant/clashpilot/internal/service"
)

var (
	serveStart string
	serveMode  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control daemon",
	Long:  "Run the control API and background jobs. With --start the proxy service is started with the active profile.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveStart, "start", "", "start the service with this profile id on boot (\"active\" for the active profile)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "tun", "inbound used with --start: tun or http")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := bootstrap.Build(cfg, logger)
	if err != nil {
		return err
	}
	app.Start(ctx)

	if serveStart != "" {
		if err := startOnBoot(ctx, app); err != nil {
			// The API stays up so the service can be started later.
			logger.Error("start on boot failed", "error", err)
		}
	}

	server := bootstrap.NewHTTPServer(cfg.HTTP, app.Router())
	go func() {
		logger.Info("http server starting", "addr", cfg.HTTP.Addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		logger.Error("daemon shutdown error", "error", err)
	}
	logger.Info("server exited cleanly")
	return nil
}

func startOnBoot(ctx context.Context, app *bootstrap.App) error {
	mode, err := service.ParseMode(serveMode)
	if err != nil {
		return err
	}
	id := serveStart
	if id == "active" {
		id = ""
	}
	p, err := app.Profiles.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if err := app.Service.Start(ctx, mode, p); err != nil {
		return err
	}
	return app.Profiles.Touch(ctx, p.ID)
}
