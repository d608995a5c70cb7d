// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for ccproxy.hjson first, then ccproxy.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"ccproxy.hjson",
		"ccproxy.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for ccproxy.hjson, ccproxy.json)")
}

// ApplyDefaults sets default values for missing config fields.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8585
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Keepalive == "" {
		cfg.Server.Keepalive = "15s"
	}

	// CLI defaults
	if cfg.CLI.Binary == "" {
		cfg.CLI.Binary = "claude"
	}
	if cfg.CLI.Workspace == "" {
		cfg.CLI.Workspace = "."
	}
	if cfg.CLI.IdleTimeout == "" {
		cfg.CLI.IdleTimeout = "60s"
	}
	if cfg.CLI.ToolTimeout == "" {
		cfg.CLI.ToolTimeout = "5m"
	}
	if cfg.CLI.CompactTimeout == "" {
		cfg.CLI.CompactTimeout = "10m"
	}

	// Session defaults: eviction off, persistence on
	if cfg.Session.TTL == "" {
		cfg.Session.TTL = "0"
	}
	if cfg.Session.PersistPath == "" {
		cfg.Session.PersistPath = filepath.Join(".ccproxy", "sessions.json")
	}

	// Monitor defaults
	if cfg.Monitor.History.MaxEvents == 0 {
		cfg.Monitor.History.MaxEvents = 10000
	}
	if cfg.Monitor.History.MaxAge == "" {
		cfg.Monitor.History.MaxAge = "1h"
	}
}
