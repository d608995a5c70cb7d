// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config defines the gateway configuration schema and loader.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	CLI     CLIConfig     `json:"cli"`
	Session SessionConfig `json:"session"`
	Deploy  DeployConfig  `json:"deploy"`
	Monitor MonitorConfig `json:"monitor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// Keepalive is the SSE comment keepalive interval. "0" disables.
	Keepalive string `json:"keepalive"`
}

// CLIConfig holds child process settings.
type CLIConfig struct {
	// Binary is the path to the assistant CLI.
	Binary string `json:"binary"`

	// Workspace is the working directory for CLI children. Distinct
	// from the CLI's own config/auth directory.
	Workspace string `json:"workspace"`

	// Model is the default model passed to the CLI when the request
	// does not resolve to one.
	Model string `json:"model"`

	// Idle timeouts by phase. Every chunk of child stdout resets the
	// active timer.
	IdleTimeout    string `json:"idle_timeout"`
	ToolTimeout    string `json:"tool_timeout"`
	CompactTimeout string `json:"compact_timeout"`
}

// SessionConfig holds registry settings.
type SessionConfig struct {
	// TTL evicts registry entries unused for this long. "0" disables
	// eviction (the default).
	TTL string `json:"ttl"`

	// PersistPath is where the registry is saved, relative to the
	// workspace unless absolute. "none" disables persistence.
	PersistPath string `json:"persist_path"`

	// AliasMap is the path to the YAML identity-alias file. Empty
	// disables aliasing.
	AliasMap string `json:"alias_map"`
}

// DeployConfig holds webhook settings.
type DeployConfig struct {
	// Secret is the HMAC-SHA256 webhook secret. Empty disables the
	// endpoint.
	Secret string `json:"secret"`

	// Script is the update script launched detached on a valid
	// push-to-main webhook.
	Script string `json:"script"`
}

// MonitorConfig holds monitor bus settings.
type MonitorConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig bounds the monitor event history.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// ParseDuration parses a duration string, returning fallback on empty
// or invalid input.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
