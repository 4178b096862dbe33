// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/epgcache/internal/daemon"
	"github.com/ManuGH/epgcache/internal/persistence/sqlite"
)

func runStorageCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printStorageUsage(os.Stdout)
		return 0
	}

	switch args[0] {
	case "verify":
		return runStorageVerify(args[1:], os.Stdout, os.Stderr)
	case "reset":
		return runStorageReset(args[1:], os.Stdout, os.Stderr)
	case "stats":
		return runStorageStats(args[1:], os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printStorageUsage(os.Stderr)
		return 2
	}
}

func printStorageUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  epgcache storage verify [--path PATH] [--mode quick|full]")
	_, _ = fmt.Fprintln(w, "  epgcache storage reset [--udn UDN]")
	_, _ = fmt.Fprintln(w, "  epgcache storage stats")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Flags:")
	_, _ = fmt.Fprintln(w, "  --file string  Path to the configuration file")
	_, _ = fmt.Fprintln(w, "  --path string  Path to the cache database (default: <dataDir>/cache.sqlite)")
	_, _ = fmt.Fprintln(w, "  --mode string  Verification mode: quick (default) or full")
	_, _ = fmt.Fprintln(w, "  --udn string   Only drop the entries of this server")
}

// cachePath resolves the cache database from --path or the configured data
// directory.
func cachePath(file, path string) (string, error) {
	if path != "" {
		return path, nil
	}
	cfg, _, err := loadConfig(file)
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.DataDir, daemon.CacheFile), nil
}

func runStorageVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("epgcache storage verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file, path, mode string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&path, "path", "", "path to the cache database")
	fs.StringVar(&mode, "mode", "quick", "verification mode: quick or full")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != "quick" && mode != "full" {
		_, _ = fmt.Fprintf(stderr, "Error: invalid mode %q. Use 'quick' or 'full'.\n", mode)
		return 2
	}

	dbPath, err := cachePath(file, path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if _, err := os.Stat(dbPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return doVerify(dbPath, mode, stdout, stderr)
}

func doVerify(path, mode string, stdout, stderr io.Writer) int {
	_, _ = fmt.Fprintf(stderr, "Verifying integrity of %s (mode: %s)...\n", path, mode)

	issues, err := sqlite.VerifyIntegrity(path, mode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Verification interrupted by system error: %v\n", err)
		return 1
	}

	if issues != nil {
		_, _ = fmt.Fprintln(stderr, "CORRUPTION DETECTED")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stderr, "  - %s\n", issue)
		}
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "Integrity verified: ok")
	return 0
}

func runStorageReset(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("epgcache storage reset", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file, udn string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&udn, "udn", "", "only drop the entries of this server")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	ctx := context.Background()
	store, err := daemon.OpenCache(ctx, cfg.DataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open cache: %v\n", err)
		return 1
	}
	defer store.Close()

	if udn != "" {
		err = store.ResetServer(ctx, udn)
	} else {
		err = store.Reset(ctx)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: reset cache: %v\n", err)
		return 1
	}
	if udn != "" {
		_, _ = fmt.Fprintf(stdout, "Cache entries of %s removed\n", udn)
	} else {
		_, _ = fmt.Fprintln(stdout, "Cache reset")
	}
	return 0
}

func runStorageStats(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("epgcache storage stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	ctx := context.Background()
	store, err := daemon.OpenCache(ctx, cfg.DataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open cache: %v\n", err)
		return 1
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read stats: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "servers:  %d\nkeys:     %d\nrows:     %d\nprograms: %d\n", st.Servers, st.Keys, st.Rows, st.Programs)
	return 0
}
