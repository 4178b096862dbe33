// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source browses remote content servers and normalizes their
// catalogs into the content model, using the cache in front of live browses.
package source

import (
	"context"
	"errors"

	"github.com/ManuGH/epgcache/internal/content"
)

// Backend reaches one kind of content server. Backends translate their remote
// field names into content model field names before returning records.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Start connects to the remote ecosystem (sockets, sessions).
	Start(ctx context.Context) error

	// Stop releases what Start acquired.
	Stop(ctx context.Context) error

	// Devices returns the content servers currently reachable.
	Devices(ctx context.Context) ([]content.Device, error)

	// Browse lists the direct children of parentID on the server udn, in
	// server order.
	Browse(ctx context.Context, udn, parentID string) ([]content.Record, error)
}

// Cache is the part of the cache store the source reads through and writes to.
type Cache interface {
	GetChildren(ctx context.Context, udn, parentID string) ([]content.Object, bool)
	Put(ctx context.Context, udn, parentID string, children []content.Object) error
}

var (
	// ErrBrowseTimeout is returned when a live browse exceeds the browse timeout.
	ErrBrowseTimeout = errors.New("source: browse timed out")

	// ErrUnknownBackend is returned by NewBackend for unsupported names.
	ErrUnknownBackend = errors.New("source: unknown backend")
)
