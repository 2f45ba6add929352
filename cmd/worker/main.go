package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/app"
	"github.com/sudo-init-do/jobhub/internal/config"
	"github.com/sudo-init-do/jobhub/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("start app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	mux := worker.NewMux(
		alerts.NewHandlers(a.Store, a.Mailer, alerts.WithHandlerLogger(logger)),
		worker.NewMaintenance(a.Bids, logger),
	)
	w, err := worker.New(cfg.RedisAddr, cfg.ReconcileInterval, mux, logger)
	if err != nil {
		logger.Error("build worker", "error", err)
		os.Exit(1)
	}
	logger.Info("worker connecting", "redis", cfg.RedisAddr)
	if err := w.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
