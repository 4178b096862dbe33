// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Backend names.
const (
	BackendUPnP      = "upnp"
	BackendOpenWebIF = "openwebif"
)

// Config is the complete daemon configuration.
type Config struct {
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`
	Backend  string `yaml:"backend"`
	// Server pins the udn queries and scheduler runs target. Empty selects
	// the first content-capable device.
	Server string `yaml:"server"`

	OpenWebIF OpenWebIFConfig `yaml:"openwebif"`
	UPnP      UPnPConfig      `yaml:"upnp"`
	Browse    BrowseConfig    `yaml:"browse"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Query     QueryConfig     `yaml:"query"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	XMLTV     XMLTVConfig     `yaml:"xmltv"`
}

// OpenWebIFConfig configures the receiver backend.
type OpenWebIFConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	Bouquet           string        `yaml:"bouquet"`
	Timeout           time.Duration `yaml:"timeout"`
	EPGDays           int           `yaml:"epgDays"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
}

// UPnPConfig configures the media server backend.
type UPnPConfig struct {
	SearchTarget      string        `yaml:"searchTarget"`
	DiscoveryWindow   time.Duration `yaml:"discoveryWindow"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	// Locations lists device description URLs used in addition to SSDP.
	Locations []string `yaml:"locations"`
	PageSize  int      `yaml:"pageSize"`
}

// BrowseConfig bounds live browses.
type BrowseConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	DeviceRefreshInterval time.Duration `yaml:"deviceRefreshInterval"`
}

// SchedulerConfig configures cache warming.
type SchedulerConfig struct {
	// RefreshInterval starts a run periodically; zero runs once at startup.
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	MaxForwardDays  int           `yaml:"maxForwardDays"`
	Retries         int           `yaml:"retries"`
	RetryBackoff    time.Duration `yaml:"retryBackoff"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int `yaml:"rateLimit"`
}

// QueryConfig configures the line protocol server.
type QueryConfig struct {
	ListenAddr  string        `yaml:"listenAddr"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// MetricsConfig configures a dedicated metrics listener. Empty leaves
// /metrics on the API listener only.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// XMLTVConfig configures the guide export written after each completed run.
type XMLTVConfig struct {
	// Path of the export; empty disables writing the file.
	Path string `yaml:"path"`
	Days int    `yaml:"days"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DataDir:  "data",
		LogLevel: "info",
		Backend:  BackendUPnP,
		OpenWebIF: OpenWebIFConfig{
			Timeout:           10 * time.Second,
			EPGDays:           14,
			RequestsPerSecond: 10,
		},
		UPnP: UPnPConfig{
			SearchTarget:      "urn:schemas-upnp-org:device:MediaServer:1",
			DiscoveryWindow:   3 * time.Second,
			RequestsPerSecond: 20,
			PageSize:          200,
		},
		Browse: BrowseConfig{
			Timeout:               15 * time.Second,
			DeviceRefreshInterval: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			RefreshInterval: 6 * time.Hour,
			MaxForwardDays:  14,
			Retries:         2,
			RetryBackoff:    500 * time.Millisecond,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8480",
			RateLimit:  600,
		},
		Query: QueryConfig{
			ListenAddr:  "127.0.0.1:8481",
			IdleTimeout: 5 * time.Minute,
		},
		XMLTV: XMLTVConfig{
			Days: 7,
		},
	}
}
