// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads mintylink settings from TOML or YAML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Device    DeviceConfig    `toml:"device" yaml:"device"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	Link      LinkConfig      `toml:"link" yaml:"link"`
	Discovery DiscoveryConfig `toml:"discovery" yaml:"discovery"`
	Store     StoreConfig     `toml:"store" yaml:"store"`
	Identity  IdentityConfig  `toml:"identity" yaml:"identity"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

// DeviceConfig locates the holder
type DeviceConfig struct {
	Host       string `toml:"host" yaml:"host"`
	Port       int    `toml:"port" yaml:"port"`
	SerialPort string `toml:"serial_port" yaml:"serial_port"` // Use the UART link instead of websocket
	Baud       int    `toml:"baud" yaml:"baud"`
}

// SessionConfig selects who decides session validity
type SessionConfig struct {
	Mode           string `toml:"mode" yaml:"mode"` // "device" or "client"
	MinimumSeconds int    `toml:"minimum_seconds" yaml:"minimum_seconds"`
}

type LinkConfig struct {
	KeepaliveSeconds      int  `toml:"keepalive_seconds" yaml:"keepalive_seconds"`
	ConnectTimeoutSeconds int  `toml:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	SkipSSLVerify         bool `toml:"skip_ssl_verify" yaml:"skip_ssl_verify"`
}

type DiscoveryConfig struct {
	Port           int    `toml:"port" yaml:"port"`
	RequestToken   string `toml:"request_token" yaml:"request_token"`
	ResponseToken  string `toml:"response_token" yaml:"response_token"`
	MaxReplies     int    `toml:"max_replies" yaml:"max_replies"`
	IdleTimeoutMS  int    `toml:"idle_timeout_ms" yaml:"idle_timeout_ms"`
	ProbeTimeoutMS int    `toml:"probe_timeout_ms" yaml:"probe_timeout_ms"`
	BatchSize      int    `toml:"batch_size" yaml:"batch_size"`
	Subnet         string `toml:"subnet" yaml:"subnet"` // Override the scanned /24, e.g. "192.168.1"
}

type StoreConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// IdentityConfig supplies the user identifier. An explicit UserID wins
// over the generated identifier kept at Path.
type IdentityConfig struct {
	UserID string `toml:"user_id" yaml:"user_id"`
	Path   string `toml:"path" yaml:"path"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Default returns a Config with the holder's stock settings
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Port: 81,
			Baud: 115200,
		},
		Session: SessionConfig{
			Mode:           "device",
			MinimumSeconds: 60,
		},
		Link: LinkConfig{
			KeepaliveSeconds:      30,
			ConnectTimeoutSeconds: 10,
		},
		Discovery: DiscoveryConfig{
			Port:           8888,
			RequestToken:   "MINTY_DISCOVER",
			ResponseToken:  "MINTY_ESP32",
			MaxReplies:     5,
			IdleTimeoutMS:  3000,
			ProbeTimeoutMS: 500,
			BatchSize:      20,
		},
		Store: StoreConfig{
			Path: DefaultDBPath(),
		},
		Identity: IdentityConfig{
			Path: DefaultIdentityPath(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a config file over the defaults. The decoder is picked by
// extension: .yaml and .yml are YAML, anything else is TOML. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.Identity.Path = expandTilde(cfg.Identity.Path)

	return cfg, nil
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("device.port must be between 1 and 65535, got %d", c.Device.Port)
	}
	if c.Device.Baud <= 0 {
		return fmt.Errorf("device.baud must be > 0")
	}

	switch c.Session.Mode {
	case "device", "client":
	default:
		return fmt.Errorf("session.mode must be \"device\" or \"client\", got %q", c.Session.Mode)
	}
	if c.Session.MinimumSeconds <= 0 {
		return fmt.Errorf("session.minimum_seconds must be > 0")
	}

	if c.Link.KeepaliveSeconds <= 0 {
		return fmt.Errorf("link.keepalive_seconds must be > 0")
	}
	if c.Link.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("link.connect_timeout_seconds must be > 0")
	}

	if c.Discovery.Port <= 0 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery.port must be between 1 and 65535, got %d", c.Discovery.Port)
	}
	if c.Discovery.RequestToken == "" || c.Discovery.ResponseToken == "" {
		return fmt.Errorf("discovery tokens must not be empty")
	}
	if c.Discovery.MaxReplies <= 0 {
		return fmt.Errorf("discovery.max_replies must be > 0")
	}
	if c.Discovery.IdleTimeoutMS <= 0 || c.Discovery.ProbeTimeoutMS <= 0 {
		return fmt.Errorf("discovery timeouts must be > 0")
	}
	if c.Discovery.BatchSize <= 0 {
		return fmt.Errorf("discovery.batch_size must be > 0")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// ParseLogLevel maps a config level name to a slog level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", level)
	}
}

// expandTilde replaces a leading ~ with the user's home directory
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
