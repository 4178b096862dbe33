// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package upnp browses UPnP AV media servers found by SSDP.
package upnp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/resilience"
)

// Name is the backend name used in configuration.
const Name = "upnp"

const (
	defaultDiscoveryWindow = 3 * time.Second
	defaultTimeout         = 10 * time.Second
	defaultPageSize        = 200
	defaultMaxPages        = 50
)

// Config configures discovery and browsing.
type Config struct {
	SearchTarget    string
	SSDPAddr        string
	DiscoveryWindow time.Duration
	// Locations lists description URLs to use instead of SSDP discovery.
	Locations         []string
	RequestsPerSecond float64
	Timeout           time.Duration
	PageSize          int
	MaxPages          int
}

type client struct {
	http     *http.Client
	limiter  *rate.Limiter
	breakers *resilience.Group
	pageSize int
	maxPages int
}

// Backend implements source.Backend over SSDP and SOAP.
type Backend struct {
	cfg    Config
	client *client

	mu      sync.RWMutex
	devices map[string]content.Device
}

// New creates a UPnP backend.
func New(cfg Config) *Backend {
	if cfg.SearchTarget == "" {
		cfg.SearchTarget = MediaServerTarget
	}
	if cfg.SSDPAddr == "" {
		cfg.SSDPAddr = DefaultSSDPAddr
	}
	if cfg.DiscoveryWindow <= 0 {
		cfg.DiscoveryWindow = defaultDiscoveryWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Backend{
		cfg: cfg,
		client: &client{
			http: &http.Client{
				Timeout:   cfg.Timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			limiter:  rate.NewLimiter(limit, 8),
			breakers: resilience.NewGroup("upnp", 5, 30*time.Second),
			pageSize: cfg.PageSize,
			maxPages: cfg.MaxPages,
		},
		devices: make(map[string]content.Device),
	}
}

// Name implements source.Backend.
func (b *Backend) Name() string { return Name }

// Start runs a first discovery round.
func (b *Backend) Start(ctx context.Context) error {
	_, err := b.Devices(ctx)
	return err
}

// Stop forgets discovered devices.
func (b *Backend) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = make(map[string]content.Device)
	return nil
}

// Devices runs discovery and describes every responder. Devices whose
// description cannot be fetched are skipped.
func (b *Backend) Devices(ctx context.Context) ([]content.Device, error) {
	logger := xglog.WithComponentFromContext(ctx, "upnp")

	locations := b.cfg.Locations
	if len(locations) == 0 {
		found, err := search(ctx, b.cfg.SSDPAddr, b.cfg.SearchTarget, b.cfg.DiscoveryWindow)
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			locations = append(locations, r.Location)
		}
	}

	var (
		mu    sync.Mutex
		found = make(map[string]content.Device, len(locations))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, loc := range locations {
		g.Go(func() error {
			d, err := b.client.describe(gctx, loc)
			if err != nil {
				logger.Warn().Err(err).
					Str(xglog.FieldEvent, "upnp.describe_failed").
					Str(xglog.FieldPath, loc).
					Msg("skipping device without usable description")
				return nil
			}
			mu.Lock()
			found[d.UDN] = d
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	gone := b.devices
	b.devices = found
	b.mu.Unlock()

	// A server that left takes its breaker with it; a new instance at the
	// same address starts closed.
	for udn, d := range gone {
		if _, ok := found[udn]; ok {
			continue
		}
		if svc, ok := d.Service(content.ContentDirectoryService[:len(content.ContentDirectoryService)-1]); ok {
			b.client.breakers.Forget(svc.ControlURL)
		}
	}

	out := make([]content.Device, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	slices.SortFunc(out, func(x, y content.Device) int {
		return cmp.Compare(x.UDN, y.UDN)
	})
	return out, nil
}

// Browse lists the direct children of parentID. A node the server does not
// know yields no children.
func (b *Backend) Browse(ctx context.Context, udn, parentID string) ([]content.Record, error) {
	b.mu.RLock()
	d, ok := b.devices[udn]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("upnp: %s: %w", udn, content.ErrDeviceNotFound)
	}
	svc, ok := d.Service(content.ContentDirectoryService[:len(content.ContentDirectoryService)-1])
	if !ok || svc.ControlURL == "" {
		return nil, fmt.Errorf("upnp: %s has no content directory: %w", udn, content.ErrDeviceNotFound)
	}

	records, err := b.client.browseAll(ctx, svc.ControlURL, parentID)
	var soapErr *SOAPError
	if errors.As(err, &soapErr) && soapErr.NoSuchObject() {
		return nil, nil
	}
	return records, err
}
