// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon configuration from an optional YAML file,
// applies environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the complete staterail daemon configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Executor ExecutorConfig `yaml:"executor"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ListenConfig configures how the daemon listens for connections.
type ListenConfig struct {
	// Addr is the TCP address to bind (e.g. "127.0.0.1:8420").
	// Environment: STATERAIL_LISTEN_ADDR
	Addr string `yaml:"addr,omitempty"`

	// ShutdownTimeout is the maximum duration to wait for in-flight HTTP
	// requests during graceful shutdown.
	// Environment: STATERAIL_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file, or ":memory:" for an ephemeral store.
	// Environment: STATERAIL_DB_PATH
	Path string `yaml:"path,omitempty"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	// Environment: STATERAIL_LOG_LEVEL, LOG_LEVEL
	Level string `yaml:"level,omitempty"`

	// Format is the log format (text, json).
	// Environment: LOG_FORMAT
	Format string `yaml:"format,omitempty"`

	// AddSource includes source locations in log records.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source,omitempty"`
}

// ExecutorConfig configures run execution.
type ExecutorConfig struct {
	// DrainTimeout is the maximum duration to wait for active runs to
	// settle during shutdown. Runs still executing after the timeout are
	// abandoned; their persisted state remains consistent.
	// Environment: STATERAIL_DRAIN_TIMEOUT
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`

	// HTTPTimeout is the total timeout for each outbound http step request.
	// Environment: STATERAIL_HTTP_TIMEOUT
	HTTPTimeout time.Duration `yaml:"http_timeout,omitempty"`

	// SignalBuffer is the per-subscription signal buffer capacity.
	SignalBuffer int `yaml:"signal_buffer,omitempty"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Enabled turns on span export to stdout.
	// Environment: STATERAIL_TRACING_ENABLED
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this process in exported spans.
	ServiceName string `yaml:"service_name,omitempty"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr:            "127.0.0.1:8420",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "staterail.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Executor: ExecutorConfig{
			DrainTimeout: 30 * time.Second,
			HTTPTimeout:  30 * time.Second,
			SignalBuffer: 16,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "stateraild",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is empty the file is skipped), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment variable overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("STATERAIL_LISTEN_ADDR"); val != "" {
		c.Listen.Addr = val
	}
	if val := os.Getenv("STATERAIL_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Listen.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("STATERAIL_DB_PATH"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("STATERAIL_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	} else if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("STATERAIL_DRAIN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Executor.DrainTimeout = d
		}
	}
	if val := os.Getenv("STATERAIL_HTTP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Executor.HTTPTimeout = d
		}
	}
	if val := os.Getenv("STATERAIL_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = val == "1" || strings.ToLower(val) == "true"
	}
}

// applyDefaults fills fields zeroed out by an explicit-but-partial YAML file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Listen.Addr == "" {
		c.Listen.Addr = defaults.Listen.Addr
	}
	if c.Listen.ShutdownTimeout == 0 {
		c.Listen.ShutdownTimeout = defaults.Listen.ShutdownTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = defaults.Database.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Executor.DrainTimeout == 0 {
		c.Executor.DrainTimeout = defaults.Executor.DrainTimeout
	}
	if c.Executor.HTTPTimeout == 0 {
		c.Executor.HTTPTimeout = defaults.Executor.HTTPTimeout
	}
	if c.Executor.SignalBuffer == 0 {
		c.Executor.SignalBuffer = defaults.Executor.SignalBuffer
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q (want debug, info, warn, or error)", ErrInvalidConfig, c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q (want text or json)", ErrInvalidConfig, c.Log.Format)
	}

	if c.Listen.Addr == "" {
		return fmt.Errorf("%w: listen addr is required", ErrInvalidConfig)
	}
	if c.Executor.DrainTimeout < 0 {
		return fmt.Errorf("%w: drain timeout must be >= 0", ErrInvalidConfig)
	}
	if c.Executor.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: http timeout must be > 0", ErrInvalidConfig)
	}
	if c.Executor.SignalBuffer < 0 {
		return fmt.Errorf("%w: signal buffer must be >= 0", ErrInvalidConfig)
	}

	return nil
}
