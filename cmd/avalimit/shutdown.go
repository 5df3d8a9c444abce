package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avalimit/internal/config"
	"github.com/vyrodovalexey/avalimit/internal/observability"
)

const defaultShutdownTimeout = 30 * time.Second

// run serves until SIGINT or SIGTERM and then shuts down gracefully.
func run(app *application, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		app.shutdown(nil)
		return err
	}

	return serve(ctx, app, ln, configPath)
}

// serve runs the HTTP server on ln until ctx is cancelled or the server
// fails.
func serve(ctx context.Context, app *application, ln net.Listener, configPath string) error {
	watcher := startConfigWatcher(ctx, app, configPath)

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting http server",
			observability.String("address", ln.Addr().String()),
		)
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		app.logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		app.logger.Error("http server failed", observability.Error(serveErr))
	}

	app.shutdown(watcher)
	return serveErr
}

// startConfigWatcher starts hot reload of rate limit policies. A watcher
// failure is logged and the service runs with the startup policies.
func startConfigWatcher(ctx context.Context, app *application, configPath string) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, app.config, app.applyRateLimitConfig,
		config.WithLogger(app.logger),
	)
	if err != nil {
		app.logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		app.logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}

	return watcher
}

// shutdown stops components in reverse order of construction.
func (a *application) shutdown(watcher *config.Watcher) {
	timeout := a.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	a.logger.Info("stopping http server")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to stop http server gracefully", observability.Error(err))
	}

	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			a.logger.Error("failed to close rate limiter", observability.Error(err))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close counter store", observability.Error(err))
		}
	}

	a.logger.Info("avalimit stopped")

	if err := a.obs.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown observability", observability.Error(err))
	}
}
