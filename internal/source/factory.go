// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"fmt"

	"github.com/ManuGH/epgcache/internal/source/openwebif"
	"github.com/ManuGH/epgcache/internal/source/upnp"
)

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Name      string
	UPnP      upnp.Config
	OpenWebIF openwebif.Config
}

// NewBackend returns the backend named by cfg.Name.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Name {
	case upnp.Name, "":
		return upnp.New(cfg.UPnP), nil
	case openwebif.Name:
		if cfg.OpenWebIF.BaseURL == "" {
			return nil, fmt.Errorf("source: openwebif backend needs a base url")
		}
		return openwebif.New(cfg.OpenWebIF), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Name)
	}
}
