// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Validate checks cfg as a whole and reports every invalid field.
func Validate(cfg Config) error {
	var errs []error
	add := func(field string, value any, reason string) {
		errs = append(errs, &FieldError{Field: field, Value: value, Reason: reason})
	}

	if cfg.DataDir == "" {
		add("dataDir", cfg.DataDir, "must not be empty")
	}
	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			add("logLevel", cfg.LogLevel, "unknown level")
		}
	}

	switch cfg.Backend {
	case BackendUPnP:
	case BackendOpenWebIF:
		if cfg.OpenWebIF.BaseURL == "" {
			add("openwebif.baseUrl", "", "required for the openwebif backend")
		} else if u, err := url.Parse(cfg.OpenWebIF.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("openwebif.baseUrl", cfg.OpenWebIF.BaseURL, "must be an http(s) URL")
		}
	default:
		add("backend", cfg.Backend, "must be upnp or openwebif")
	}

	checkRange := func(field string, v, lo, hi int) {
		if v < lo || v > hi {
			add(field, v, "out of range")
		}
	}
	checkRange("openwebif.epgDays", cfg.OpenWebIF.EPGDays, 1, 31)
	checkRange("upnp.pageSize", cfg.UPnP.PageSize, 1, 5000)
	checkRange("scheduler.maxForwardDays", cfg.Scheduler.MaxForwardDays, 0, 60)
	checkRange("scheduler.retries", cfg.Scheduler.Retries, 0, 10)
	checkRange("xmltv.days", cfg.XMLTV.Days, 1, 31)
	if cfg.API.RateLimit < 0 {
		add("api.rateLimit", cfg.API.RateLimit, "must not be negative")
	}
	if cfg.OpenWebIF.RequestsPerSecond < 0 {
		add("openwebif.requestsPerSecond", cfg.OpenWebIF.RequestsPerSecond, "must not be negative")
	}
	if cfg.UPnP.RequestsPerSecond < 0 {
		add("upnp.requestsPerSecond", cfg.UPnP.RequestsPerSecond, "must not be negative")
	}

	positive := map[string]time.Duration{
		"openwebif.timeout":      cfg.OpenWebIF.Timeout,
		"upnp.discoveryWindow":   cfg.UPnP.DiscoveryWindow,
		"browse.timeout":         cfg.Browse.Timeout,
		"scheduler.retryBackoff": cfg.Scheduler.RetryBackoff,
	}
	for field, d := range positive {
		if d <= 0 {
			add(field, d, "must be positive")
		}
	}
	nonNegative := map[string]time.Duration{
		"browse.deviceRefreshInterval": cfg.Browse.DeviceRefreshInterval,
		"scheduler.refreshInterval":    cfg.Scheduler.RefreshInterval,
		"query.idleTimeout":            cfg.Query.IdleTimeout,
	}
	for field, d := range nonNegative {
		if d < 0 {
			add(field, d, "must not be negative")
		}
	}

	for field, addr := range map[string]string{
		"api.listenAddr":     cfg.API.ListenAddr,
		"query.listenAddr":   cfg.Query.ListenAddr,
		"metrics.listenAddr": cfg.Metrics.ListenAddr,
	} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(field, addr, "must be host:port")
		}
	}

	return errors.Join(errs...)
}
