// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for epgcache.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// strict YAML file, and EPGCACHE_* environment variables. The result is
// validated as a whole; a Holder keeps the active value and swaps it
// atomically when the file changes.
package config
