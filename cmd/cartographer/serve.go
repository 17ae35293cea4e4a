package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cartographer/internal/api"
	"github.com/MikeSquared-Agency/cartographer/internal/hermes"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and accept uploads",
	Long:  `Serve the read API, accept uploads over HTTP and the bus, and process each upload in the background.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("cartographer starting", "port", cfg.Port, "version", version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.hermes != nil {
		if err := a.hermes.Subscribe(hermes.SubjectUploadRequested, hermes.UploadHandler(a.pipeline, slog.Default())); err != nil {
			return err
		}
	}

	// HTTP API
	srv := api.NewServer(api.Deps{
		Reader:  a.db,
		Status:  a.status,
		Starter: a.pipeline,
		Metrics: a.recorder.Handler(),
		Logger:  slog.Default(),
	}, api.Options{
		Port:           cfg.Port,
		APIToken:       cfg.APIToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	if a.hermes != nil {
		if err := a.hermes.Announce(version); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("cartographer ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	slog.Info("waiting for running pipelines")
	a.pipeline.Wait()
	slog.Info("cartographer stopped")
	return nil
}
