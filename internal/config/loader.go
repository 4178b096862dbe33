// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader resolves configuration from defaults, an optional file and the environment.
type Loader struct {
	path string
}

// NewLoader creates a loader for path. An empty path skips the file layer.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the config file path, or "" when none is used.
func (l *Loader) Path() string { return l.path }

// Load resolves and validates the configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Default()
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeStrict(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	expandSecrets(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeStrict decodes a single YAML document into cfg, rejecting unknown keys.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// expandSecrets expands ${VAR} references in credential fields so secrets
// can stay out of the file.
func expandSecrets(cfg *Config) {
	cfg.OpenWebIF.BaseURL = os.ExpandEnv(cfg.OpenWebIF.BaseURL)
	cfg.OpenWebIF.Username = os.ExpandEnv(cfg.OpenWebIF.Username)
	cfg.OpenWebIF.Password = os.ExpandEnv(cfg.OpenWebIF.Password)
}
