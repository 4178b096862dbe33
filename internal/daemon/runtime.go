// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the cache, content source, scheduler and servers into
// one process and manages its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/epgcache/internal/cache"
	"github.com/ManuGH/epgcache/internal/config"
	"github.com/ManuGH/epgcache/internal/content"
	"github.com/ManuGH/epgcache/internal/epg"
	"github.com/ManuGH/epgcache/internal/favorites"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/query"
	"github.com/ManuGH/epgcache/internal/scheduler"
	"github.com/ManuGH/epgcache/internal/source"
	"github.com/ManuGH/epgcache/internal/source/openwebif"
	"github.com/ManuGH/epgcache/internal/source/upnp"
)

// File names below the data directory.
const (
	CacheFile    = "cache.sqlite"
	FavoritesDir = "favorites"
)

// exportTimeout bounds the XMLTV export after a scheduler run.
const exportTimeout = 2 * time.Minute

// BackendConfig maps the daemon configuration onto the source backends.
func BackendConfig(cfg config.Config) source.BackendConfig {
	return source.BackendConfig{
		Name: cfg.Backend,
		UPnP: upnp.Config{
			SearchTarget:      cfg.UPnP.SearchTarget,
			DiscoveryWindow:   cfg.UPnP.DiscoveryWindow,
			Locations:         cfg.UPnP.Locations,
			RequestsPerSecond: cfg.UPnP.RequestsPerSecond,
			Timeout:           cfg.Browse.Timeout,
			PageSize:          cfg.UPnP.PageSize,
		},
		OpenWebIF: openwebif.Config{
			BaseURL:           cfg.OpenWebIF.BaseURL,
			Bouquet:           cfg.OpenWebIF.Bouquet,
			Timeout:           cfg.OpenWebIF.Timeout,
			EPGDays:           cfg.OpenWebIF.EPGDays,
			RequestsPerSecond: cfg.OpenWebIF.RequestsPerSecond,
			Username:          cfg.OpenWebIF.Username,
			Password:          cfg.OpenWebIF.Password,
		},
	}
}

// SchedulerConfig maps the daemon configuration onto the scheduler.
func SchedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		MaxForwardDays:  cfg.Scheduler.MaxForwardDays,
		Retries:         cfg.Scheduler.Retries,
		RetryBackoff:    cfg.Scheduler.RetryBackoff,
		RefreshInterval: cfg.Scheduler.RefreshInterval,
	}
}

// QueryWindow is the widest program window a query may ask for: the
// scheduler's forward horizon plus three days.
func QueryWindow(cfg config.Config) time.Duration {
	days := cfg.Scheduler.MaxForwardDays
	if days <= 0 {
		days = scheduler.DefaultMaxForwardDays
	}
	return time.Duration(days+3) * content.Day
}

// OpenCache opens the cache database below dataDir.
func OpenCache(ctx context.Context, dataDir string) (*cache.Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cache.Open(ctx, filepath.Join(dataDir, CacheFile), content.NewRegistry())
}

// Runtime is the assembled daemon.
type Runtime struct {
	Holder    *config.Holder
	Cache     *cache.Store
	Favorites *favorites.Store
	Source    *source.Source
	Scheduler *scheduler.Manager
	Query     *query.Handler
	Router    http.Handler
	Manager   Manager
	App       *App

	exporter atomic.Pointer[epg.Exporter]
	version  string
	logger   zerolog.Logger

	targetMu sync.Mutex
	target   string
}

// NewRuntime assembles the daemon from the holder's current configuration.
// Nothing is started until Run.
func NewRuntime(ctx context.Context, holder *config.Holder, version string) (*Runtime, error) {
	cfg := holder.Get()
	rt := &Runtime{
		Holder:  holder,
		version: version,
		logger:  xglog.WithComponent("daemon"),
	}

	store, err := OpenCache(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	rt.Cache = store

	fav, err := favorites.Open(filepath.Join(cfg.DataDir, FavoritesDir))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rt.Favorites = fav

	backend, err := source.NewBackend(BackendConfig(cfg))
	if err != nil {
		_ = fav.Close()
		_ = store.Close()
		return nil, err
	}

	window := QueryWindow(cfg)
	rt.Source = source.New(backend, store, source.Options{
		BrowseTimeout: cfg.Browse.Timeout,
		MaxRange:      window,
	})
	rt.Scheduler = scheduler.NewManager(rt.Source, SchedulerConfig(cfg))
	rt.setExporter(cfg)
	rt.Query = query.NewHandler(rt.Source, fav, func() string { return rt.Holder.Get().Server },
		query.WithMaxWindow(window))

	rt.Router = query.NewRouter(query.APIDeps{
		Handler:   rt.Query,
		Catalog:   store,
		Scheduler: rt.Scheduler,
		Guide:     guide{rt},
		Ready:     rt.Source.IsServiceStarted,
	}, query.APIConfig{
		RateLimitPerMinute: cfg.API.RateLimit,
		TracingService:     "epgcache",
	})

	mgr, err := NewManager(DefaultServerConfig(cfg.API.ListenAddr), Deps{
		Logger:         rt.logger,
		APIHandler:     rt.Router,
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    cfg.Metrics.ListenAddr,
	})
	if err != nil {
		_ = fav.Close()
		_ = store.Close()
		return nil, err
	}
	rt.Manager = mgr

	// LIFO: jobs stop first, the cache closes last.
	mgr.RegisterShutdownHook("cache", func(context.Context) error { return store.Close() })
	mgr.RegisterShutdownHook("favorites", func(context.Context) error { return fav.Close() })
	mgr.RegisterShutdownHook("source", func(ctx context.Context) error {
		rt.Source.StopService(ctx)
		return nil
	})
	mgr.RegisterShutdownHook("scheduler", func(context.Context) error {
		rt.Scheduler.Close()
		return nil
	})

	rt.Scheduler.OnFinish(rt.exportAfterRun)
	rt.Source.OnDevicesChanged(func([]content.Device) { rt.retarget() })

	rt.App = NewApp(rt.logger, mgr, holder)
	rt.App.OnReload(rt.applyConfig)
	rt.App.AddLoop("source", rt.runSource)
	rt.App.AddLoop("scheduler", func(ctx context.Context) error {
		rt.Scheduler.RunPeriodic(ctx, rt.Query.TargetUDN)
		return nil
	})
	if cfg.Query.ListenAddr != "" {
		srv := query.NewServer(rt.Query, cfg.Query.IdleTimeout)
		rt.App.AddLoop("query", func(ctx context.Context) error {
			return srv.ListenAndServe(ctx, cfg.Query.ListenAddr)
		})
	}
	return rt, nil
}

// Run blocks until ctx is cancelled or a server fails.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.logger.Info().
		Str(xglog.FieldEvent, "daemon.start").
		Str(xglog.FieldBackend, rt.Source.BackendName()).
		Str("version", rt.version).
		Msg("epgcache starting")
	return rt.App.Run(ctx)
}

// runSource starts the content service and keeps the device list fresh.
func (rt *Runtime) runSource(ctx context.Context) error {
	obs := &source.ObserverFuncs{
		OnError: func(err error) {
			rt.logger.Error().Err(err).
				Str(xglog.FieldEvent, "daemon.source_error").
				Msg("content service reported an error")
		},
	}
	rt.Source.StartService(ctx, obs)
	defer rt.Source.RemoveObserver(obs)

	interval := rt.Holder.Get().Browse.DeviceRefreshInterval
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !rt.Source.IsServiceStarted() {
				// Retry a start that failed, e.g. the receiver was off.
				rt.Source.StartService(ctx, nil)
				continue
			}
			if err := rt.Source.RefreshDevices(ctx); err != nil {
				rt.logger.Warn().Err(err).
					Str(xglog.FieldEvent, "source.discovery_failed").
					Msg("device refresh failed")
			}
		}
	}
}

// retarget restarts cache warming when the target server changes.
func (rt *Runtime) retarget() {
	udn := rt.Query.TargetUDN()
	rt.targetMu.Lock()
	if udn == rt.target {
		rt.targetMu.Unlock()
		return
	}
	prev := rt.target
	rt.target = udn
	rt.targetMu.Unlock()

	// The periodic loop may already be warming the first target.
	if prev == "" && udn != "" && rt.Scheduler.Running(udn) {
		return
	}
	if err := rt.Scheduler.ServerChanged(udn); err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
		rt.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "scheduler.start_failed").
			Str(xglog.FieldUDN, udn).
			Msg("could not start run for new target")
	}
}

// applyConfig applies the hot-reloadable settings of cfg.
func (rt *Runtime) applyConfig(cfg config.Config) {
	xglog.Reconfigure(xglog.Config{Level: cfg.LogLevel, Version: rt.version})
	rt.setExporter(cfg)
	rt.retarget()
}

func (rt *Runtime) setExporter(cfg config.Config) {
	rt.exporter.Store(&epg.Exporter{
		Catalog:   rt.Cache,
		Days:      cfg.XMLTV.Days,
		Generator: "epgcache " + rt.version,
	})
}

// exportAfterRun writes the XMLTV file after a completed run.
func (rt *Runtime) exportAfterRun(st scheduler.Status) {
	path := rt.Holder.Get().XMLTV.Path
	if st.State != scheduler.StateCompleted || path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()
	// Export logs and counts its own failures.
	_, _ = rt.exporter.Load().Export(ctx, st.UDN, path)
}

// guide serves the current exporter to the HTTP API.
type guide struct{ rt *Runtime }

func (g guide) Build(ctx context.Context, udn string) (epg.TV, error) {
	return g.rt.exporter.Load().Build(ctx, udn)
}
