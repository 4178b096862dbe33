// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/epgcache/internal/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EPGCACHE_"

// applyEnv overlays EPGCACHE_* variables onto cfg. Unset or empty variables
// keep the value from the file or the defaults.
func applyEnv(cfg *Config) {
	cfg.DataDir = ParseString(EnvPrefix+"DATA_DIR", cfg.DataDir)
	cfg.LogLevel = ParseString(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.Backend = ParseString(EnvPrefix+"BACKEND", cfg.Backend)
	cfg.Server = ParseString(EnvPrefix+"SERVER", cfg.Server)

	cfg.OpenWebIF.BaseURL = ParseString(EnvPrefix+"OWI_BASE_URL", cfg.OpenWebIF.BaseURL)
	cfg.OpenWebIF.Bouquet = ParseString(EnvPrefix+"OWI_BOUQUET", cfg.OpenWebIF.Bouquet)
	cfg.OpenWebIF.Timeout = ParseDuration(EnvPrefix+"OWI_TIMEOUT", cfg.OpenWebIF.Timeout)
	cfg.OpenWebIF.EPGDays = ParseInt(EnvPrefix+"OWI_EPG_DAYS", cfg.OpenWebIF.EPGDays)
	cfg.OpenWebIF.RequestsPerSecond = ParseFloat(EnvPrefix+"OWI_RPS", cfg.OpenWebIF.RequestsPerSecond)
	cfg.OpenWebIF.Username = ParseString(EnvPrefix+"OWI_USERNAME", cfg.OpenWebIF.Username)
	cfg.OpenWebIF.Password = ParseString(EnvPrefix+"OWI_PASSWORD", cfg.OpenWebIF.Password)

	cfg.UPnP.SearchTarget = ParseString(EnvPrefix+"UPNP_SEARCH_TARGET", cfg.UPnP.SearchTarget)
	cfg.UPnP.DiscoveryWindow = ParseDuration(EnvPrefix+"UPNP_DISCOVERY_WINDOW", cfg.UPnP.DiscoveryWindow)
	cfg.UPnP.RequestsPerSecond = ParseFloat(EnvPrefix+"UPNP_RPS", cfg.UPnP.RequestsPerSecond)
	cfg.UPnP.Locations = ParseList(EnvPrefix+"UPNP_LOCATIONS", cfg.UPnP.Locations)
	cfg.UPnP.PageSize = ParseInt(EnvPrefix+"UPNP_PAGE_SIZE", cfg.UPnP.PageSize)

	cfg.Browse.Timeout = ParseDuration(EnvPrefix+"BROWSE_TIMEOUT", cfg.Browse.Timeout)
	cfg.Browse.DeviceRefreshInterval = ParseDuration(EnvPrefix+"DEVICE_REFRESH_INTERVAL", cfg.Browse.DeviceRefreshInterval)

	cfg.Scheduler.RefreshInterval = ParseDuration(EnvPrefix+"SCHEDULER_REFRESH_INTERVAL", cfg.Scheduler.RefreshInterval)
	cfg.Scheduler.MaxForwardDays = ParseInt(EnvPrefix+"SCHEDULER_MAX_FORWARD_DAYS", cfg.Scheduler.MaxForwardDays)
	cfg.Scheduler.Retries = ParseInt(EnvPrefix+"SCHEDULER_RETRIES", cfg.Scheduler.Retries)
	cfg.Scheduler.RetryBackoff = ParseDuration(EnvPrefix+"SCHEDULER_RETRY_BACKOFF", cfg.Scheduler.RetryBackoff)

	cfg.API.ListenAddr = ParseString(EnvPrefix+"API_LISTEN", cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(EnvPrefix+"API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.Query.ListenAddr = ParseString(EnvPrefix+"QUERY_LISTEN", cfg.Query.ListenAddr)
	cfg.Query.IdleTimeout = ParseDuration(EnvPrefix+"QUERY_IDLE_TIMEOUT", cfg.Query.IdleTimeout)
	cfg.Metrics.ListenAddr = ParseString(EnvPrefix+"METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.XMLTV.Path = ParseString(EnvPrefix+"XMLTV_PATH", cfg.XMLTV.Path)
	cfg.XMLTV.Days = ParseInt(EnvPrefix+"XMLTV_DAYS", cfg.XMLTV.Days)
}

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

// parseStringWithLogger reads an environment variable with custom logger.
func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		lowerKey := strings.ToLower(key)
		switch {
		case value == "":
			logger.Debug().
				Str("key", key).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		case strings.Contains(lowerKey, "password"):
			// For sensitive vars, just log that it was set
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		default:
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	return defaultValue
}

// ParseList reads a comma separated list. Blank elements are dropped.
func ParseList(key string, defaultValue []string) []string {
	v := ParseString(key, "")
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			logger.Debug().
				Str("key", key).
				Int("value", i).
				Str("source", "environment").
				Msg("using environment variable")
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables and logs the choice.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			logger.Debug().
				Str("key", key).
				Dur("value", d).
				Str("source", "environment").
				Msg("using environment variable")
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			logger.Debug().
				Str("key", key).
				Float64("value", f).
				Str("source", "environment").
				Msg("using environment variable")
			return f
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}
