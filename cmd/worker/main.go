package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/campaign-lifecycle/internal/app"
	"github.com/unclebandit/campaign-lifecycle/internal/config"
	"github.com/unclebandit/campaign-lifecycle/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.Setup("campaign-lifecycle-worker", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := run(ctx, a); err != nil {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// run consumes lifecycle events and fires due jobs until ctx ends.
func run(ctx context.Context, a *app.App) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ConsumeEvents(ctx) })
	g.Go(func() error { return a.Scheduler.Run(ctx) })

	a.Logger.Info("worker running, waiting for events and due jobs",
		"event_bus", a.Config.EventBus, "workers", a.Config.WorkerCount)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
