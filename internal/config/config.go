// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for quizmaster.
//
// Configuration is a TOML file with sensible defaults and environment
// variable overrides. Everything the pipeline needs at send time — the
// provider credential, model, persona, delivery tuning — lives here and is
// passed in explicitly; nothing is read ad hoc from global state during an
// exchange.
//
// File location: ~/.quizmaster/config.toml (overridable for tests).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvAPIKey overrides the configured provider credential.
const EnvAPIKey = "QUIZMASTER_API_KEY"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete quizmaster configuration.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Persona  PersonaConfig  `toml:"persona"`
	Delivery DeliveryConfig `toml:"delivery"`
	Storage  StorageConfig  `toml:"storage"`
}

// ProviderConfig configures the chat-completions provider.
type ProviderConfig struct {
	// APIKey is the bearer credential. Env QUIZMASTER_API_KEY overrides.
	APIKey string `toml:"api_key"`
	// BaseURL overrides the API base URL (empty = provider default).
	BaseURL string `toml:"base_url"`
	// Model is the model identifier to request.
	Model string `toml:"model"`
	// Temperature is the sampling temperature.
	Temperature float64 `toml:"temperature"`
	// RequestTimeoutSecs caps a whole streaming request. 0 disables the cap.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// PersonaConfig is the operator-configurable tutor personality.
type PersonaConfig struct {
	Name         string `toml:"name"`
	Instructions string `toml:"instructions"`
	Language     string `toml:"language"`
}

// DeliveryConfig tunes how streamed text reaches the display.
type DeliveryConfig struct {
	// Mode is "delta" (append increments) or "snapshot" (replace full text).
	Mode string `toml:"mode"`
	// FlushIntervalMs is the rendering tick in milliseconds.
	FlushIntervalMs int `toml:"flush_interval_ms"`
}

// StorageConfig configures conversation persistence.
type StorageConfig struct {
	// DBPath is the SQLite database path (empty = default under the config dir).
	DBPath string `toml:"db_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
		},
		Persona: PersonaConfig{
			Language: "English",
		},
		Delivery: DeliveryConfig{
			Mode:            "delta",
			FlushIntervalMs: 33,
		},
	}
}

// Dir returns the quizmaster configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quizmaster"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the default location. A missing file yields
// the defaults; a malformed file is an error.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, "config.toml"))
}

// LoadFrom reads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.Provider.APIKey = key
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a sparse file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Provider.Model == "" {
		c.Provider.Model = d.Provider.Model
	}
	if c.Provider.Temperature == 0 {
		c.Provider.Temperature = d.Provider.Temperature
	}
	if c.Persona.Language == "" {
		c.Persona.Language = d.Persona.Language
	}
	if c.Delivery.Mode == "" {
		c.Delivery.Mode = d.Delivery.Mode
	}
	if c.Delivery.FlushIntervalMs <= 0 {
		c.Delivery.FlushIntervalMs = d.Delivery.FlushIntervalMs
	}
	if c.Storage.DBPath == "" {
		if dir, err := Dir(); err == nil {
			c.Storage.DBPath = filepath.Join(dir, "conversations.db")
		}
	}
}

// validate rejects values no component can act on.
func (c *Config) validate() error {
	if c.Delivery.Mode != "delta" && c.Delivery.Mode != "snapshot" {
		return fmt.Errorf("delivery.mode must be \"delta\" or \"snapshot\", got %q", c.Delivery.Mode)
	}
	if c.Provider.RequestTimeoutSecs < 0 {
		return fmt.Errorf("provider.request_timeout_secs must be >= 0, got %d", c.Provider.RequestTimeoutSecs)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("provider.temperature must be in [0, 2], got %g", c.Provider.Temperature)
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// RequestTimeout returns the configured request cap as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Provider.RequestTimeoutSecs) * time.Second
}

// FlushInterval returns the rendering tick as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Delivery.FlushIntervalMs) * time.Millisecond
}
