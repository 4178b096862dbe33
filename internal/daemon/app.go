// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/epgcache/internal/config"
	xglog "github.com/ManuGH/epgcache/internal/log"
)

// Loop is a long-lived background task. It returns when ctx is done; a
// non-nil error stops the whole App.
type Loop func(ctx context.Context) error

type namedLoop struct {
	name string
	run  Loop
}

// App owns the long-lived runtime lifecycle (config watching, reload wiring,
// background loops) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	reloadSignal os.Signal
	onReload     []func(config.Config)
	loops        []namedLoop
}

// NewApp creates a new App orchestrator. cfgHolder may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		reloadSignal: syscall.SIGHUP,
	}
}

// AddLoop registers a background loop started by Run.
func (a *App) AddLoop(name string, loop Loop) {
	a.loops = append(a.loops, namedLoop{name: name, run: loop})
}

// OnReload registers fn to receive every successfully reloaded config.
func (a *App) OnReload(fn func(config.Config)) {
	a.onReload = append(a.onReload, fn)
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		// The watcher is best-effort: a failure leaves SIGHUP reloads working.
		g.Go(func() error {
			if err := a.cfgHolder.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
			}
			return nil
		})

		applyCh := make(chan config.Config, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					for _, fn := range a.onReload {
						fn(cfg)
					}
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(xglog.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					// Reload logs failures and keeps the previous config.
					_ = a.cfgHolder.Reload(ctx)
				}
			}
		})
	}

	for _, l := range a.loops {
		g.Go(func() error {
			a.logger.Debug().Str(xglog.FieldEvent, "daemon.loop_started").Str("loop", l.name).Msg("background loop started")
			err := l.run(ctx)
			if err != nil {
				a.logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.loop_failed").Str("loop", l.name).Msg("background loop failed")
			}
			return err
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}
