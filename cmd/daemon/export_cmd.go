// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/epgcache/internal/daemon"
	"github.com/ManuGH/epgcache/internal/epg"
	"github.com/ManuGH/epgcache/internal/version"
)

// runExportCLI writes the XMLTV guide of one server from the cache alone.
func runExportCLI(args []string) int {
	return runExport(args, os.Stdout, os.Stderr)
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("epgcache export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file, out, udn string
	var days int
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&out, "out", "", "output file, - for stdout (default: xmltv.path)")
	fs.StringVar(&udn, "udn", "", "server to export (default: configured server)")
	fs.IntVar(&days, "days", 0, "days to export (default: xmltv.days)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if udn == "" {
		udn = cfg.Server
	}
	if udn == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --udn is required when no server is configured")
		return 2
	}
	if out == "" {
		out = cfg.XMLTV.Path
	}
	if out == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required when xmltv.path is not configured")
		return 2
	}
	if days <= 0 {
		days = cfg.XMLTV.Days
	}

	ctx := context.Background()
	store, err := daemon.OpenCache(ctx, cfg.DataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open cache: %v\n", err)
		return 1
	}
	defer store.Close()

	exp := &epg.Exporter{Catalog: store, Days: days, Generator: "epgcache " + version.Version}
	if out == "-" {
		tv, err := exp.Build(ctx, udn)
		if err == nil {
			err = epg.Encode(stdout, tv)
		}
		return exportResult(stderr, udn, err)
	}

	n, err := exp.Export(ctx, udn, out)
	if code := exportResult(stderr, udn, err); code != 0 {
		return code
	}
	_, _ = fmt.Fprintf(stdout, "Wrote %d programmes to %s\n", n, out)
	return 0
}

func exportResult(stderr io.Writer, udn string, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, epg.ErrNoChannels):
		_, _ = fmt.Fprintf(stderr, "Error: no cached channels for %s; run the daemon first\n", udn)
		return 1
	default:
		_, _ = fmt.Fprintf(stderr, "Error: export: %v\n", err)
		return 1
	}
}
