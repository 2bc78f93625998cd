// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: it starts the config
// watcher, the engine loops, the HTTP control surface and the UDP
// discovery responder, and tears them down together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/waterwise/sprinklerd/internal/api"
	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/discovery"
	"github.com/waterwise/sprinklerd/internal/engine"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

const shutdownTimeout = 10 * time.Second

// App wires the subsystems and blocks in Run until shutdown.
type App struct {
	logger       zerolog.Logger
	holder       *config.Holder
	engine       *engine.Engine
	server       *api.Server
	version      string
	reloadSignal os.Signal
}

// New builds the application around an already-constructed engine.
func New(holder *config.Holder, eng *engine.Engine, server *api.Server, version string) *App {
	return &App{
		logger:       xlog.WithComponent("daemon"),
		holder:       holder,
		engine:       eng,
		server:       server,
		version:      version,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts every subsystem and blocks until the context is cancelled
// or one of them fails. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// The watcher is best-effort: a missing inotify backend must not
	// keep the controller from starting.
	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("config watcher unavailable")
	}

	// SIGHUP forces a reload, same path the watcher takes.
	g.Go(func() error {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		defer signal.Stop(hupChan)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hupChan:
				a.logger.Info().Str("event", "config.reload_signal").Msg("reload requested")
				if err := a.holder.Reload(context.Background()); err != nil {
					a.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("keeping last good config")
				}
			}
		}
	})

	g.Go(func() error {
		return a.engine.Run(ctx)
	})

	cfg := a.holder.Get()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServer.Port),
		Handler:           a.server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info().Str("event", "daemon.http_listening").Str("addr", httpServer.Addr).Msg("control surface up")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	responder := discovery.NewResponder(cfg.DiscoveryPort(), cfg.WebServer.Port, a.version)
	g.Go(func() error {
		return responder.Run(ctx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
	return nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
