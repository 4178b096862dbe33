// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command epgcache runs the program guide cache daemon and its maintenance
// subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/epgcache/internal/config"
	"github.com/ManuGH/epgcache/internal/daemon"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "storage":
			os.Exit(runStorageCLI(os.Args[2:]))
		case "export":
			os.Exit(runExportCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		case "daemon":
			os.Exit(runDaemon(os.Args[2:]))
		case "help", "-h", "--help":
			printUsage(os.Stdout)
			os.Exit(0)
		}
	}
	os.Exit(runDaemon(os.Args[1:]))
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  epgcache [daemon] [--config config.yaml] [--version]")
	_, _ = fmt.Fprintln(w, "  epgcache config validate|dump [--file config.yaml]")
	_, _ = fmt.Fprintln(w, "  epgcache storage verify|reset|stats [--file config.yaml]")
	_, _ = fmt.Fprintln(w, "  epgcache export --out guide.xml [--udn UDN] [--file config.yaml]")
	_, _ = fmt.Fprintln(w, "  epgcache healthcheck [--addr host:port]")
}

// resolveConfigPath returns explicit when set, otherwise config.yaml in the
// data directory if it exists, otherwise "" (environment and defaults only).
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", config.Default().DataDir))
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("epgcache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	// Safe defaults until the config is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "epgcache",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := resolveConfigPath(*configPath)
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str(xglog.FieldPath, path).
			Msg("failed to load configuration")
		return 1
	}

	xglog.Reconfigure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "epgcache",
		Version: version.Version,
	})
	logger = xglog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	event := logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, path).
		Str(xglog.FieldBackend, cfg.Backend)
	if cfg.Backend == config.BackendOpenWebIF {
		event = event.Str(xglog.FieldBaseURL, maskURL(cfg.OpenWebIF.BaseURL))
	}
	event.Msg("configuration loaded")

	rt, err := daemon.NewRuntime(ctx, config.NewHolder(cfg, loader), version.Version)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.init_failed").Msg("failed to initialise daemon")
		return 1
	}
	if err := rt.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		return 1
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.exit").Msg("daemon stopped")
	return 0
}

// loadConfig loads the configuration for the maintenance subcommands.
func loadConfig(file string) (config.Config, string, error) {
	path := resolveConfigPath(file)
	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		if path == "" {
			path = "environment"
		}
		return config.Config{}, path, fmt.Errorf("configuration error in %s: %w", path, err)
	}
	return cfg, path, nil
}
