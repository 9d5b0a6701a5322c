// Package app contains the shared logic for starting and stopping the relay.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const shutdownTimeout = 15 * time.Second

// Service is the lifecycle the relay's Wrapper exposes.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Run starts the service, waits for an OS signal or for ctx to end, and then
// shuts the service down gracefully. The closers (subscription store, cloud
// clients) are closed in order once the service has stopped.
func Run(ctx context.Context, logger *slog.Logger, service Service, closers ...io.Closer) {
	var wg sync.WaitGroup
	wg.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer wg.Done()
		logger.Info("Starting relay service...")
		err := service.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Relay service failed", "err", err)
		}
		// A returned Start means the HTTP server is gone either way.
		cancel()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)
	select {
	case sig := <-shutdown:
		logger.Info("Received shutdown signal.", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Info("Shutting down relay service...")
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Relay service shutdown failed.", "err", err)
	}

	wg.Wait()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close resource.", "err", err)
		}
	}
	logger.Info("All services shut down gracefully.")
}
