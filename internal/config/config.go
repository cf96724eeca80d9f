// Package config loads the feedwire process configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/feedwire/pkg/channel"
	"github.com/ryandielhenn/feedwire/pkg/registry"
	"github.com/ryandielhenn/feedwire/pkg/snapshot"
)

type Config struct {
	// Listen is the control API address; empty disables it.
	Listen   string         `yaml:"listen"`
	Channel  ChannelConfig  `yaml:"channel"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ChannelConfig struct {
	// Origins are the http(s) addresses of feed servers. Each one serves its
	// socket on Path.
	Origins        []string      `yaml:"origins"`
	Path           string        `yaml:"path"`
	CommandTimeout string        `yaml:"command_timeout"`
	Backoff        BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Base   string  `yaml:"base"`
	Growth float64 `yaml:"growth"`
	Cap    string  `yaml:"cap"`
}

type SnapshotConfig struct {
	// Path of the SQLite database; empty keeps snapshots in memory.
	Path string `yaml:"path"`
	Key  string `yaml:"key"`
}

// RegistryConfig enables etcd endpoint discovery when Endpoints is set.
type RegistryConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:7070",
		Channel: ChannelConfig{
			Origins:        []string{"http://localhost:3000"},
			Path:           channel.DefaultPath,
			CommandTimeout: "10s",
			Backoff: BackoffConfig{
				Base:   "200ms",
				Growth: 5,
				Cap:    "5s",
			},
		},
		Snapshot: SnapshotConfig{Key: snapshot.DefaultKey},
		Registry: RegistryConfig{Prefix: registry.DefaultPrefix},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FEEDWIRE_ORIGIN"); v != "" {
		c.Channel.Origins = splitList(v)
	}
	if v, ok := os.LookupEnv("FEEDWIRE_LISTEN"); ok {
		c.Listen = v
	}
	if v := os.Getenv("FEEDWIRE_SNAPSHOT_DB"); v != "" {
		c.Snapshot.Path = v
	}
	if v := os.Getenv("FEEDWIRE_ETCD_ENDPOINTS"); v != "" {
		c.Registry.Endpoints = splitList(v)
	}
	if v := os.Getenv("FEEDWIRE_COMMAND_TIMEOUT"); v != "" {
		c.Channel.CommandTimeout = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that every duration parses and that at least one endpoint
// source is configured.
func (c *Config) Validate() error {
	if len(c.Channel.Origins) == 0 && len(c.Registry.Endpoints) == 0 {
		return errors.New("no channel origins configured (set channel.origins, registry.endpoints or FEEDWIRE_ORIGIN)")
	}
	for _, o := range c.Channel.Origins {
		if _, err := channel.EndpointURL(o, c.Channel.Path); err != nil {
			return fmt.Errorf("invalid channel origin: %w", err)
		}
	}
	if _, err := parseDuration("channel.command_timeout", c.Channel.CommandTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("channel.backoff.base", c.Channel.Backoff.Base); err != nil {
		return err
	}
	if _, err := parseDuration("channel.backoff.cap", c.Channel.Backoff.Cap); err != nil {
		return err
	}
	if g := c.Channel.Backoff.Growth; g != 0 && g < 1 {
		return fmt.Errorf("channel.backoff.growth must be >= 1, got %v", g)
	}
	return nil
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", field, v)
	}
	return d, nil
}

// GetCommandTimeout returns the dispatch timeout; zero disables it.
func (c *Config) GetCommandTimeout() time.Duration {
	d, err := parseDuration("", c.Channel.CommandTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetBackoff returns the reconnect schedule, falling back to the default for
// any unset field.
func (c *Config) GetBackoff() channel.Backoff {
	b := channel.DefaultBackoff()
	if d, err := parseDuration("", c.Channel.Backoff.Base); err == nil && c.Channel.Backoff.Base != "" {
		b.Base = d
	}
	if c.Channel.Backoff.Growth >= 1 {
		b.Growth = c.Channel.Backoff.Growth
	}
	if d, err := parseDuration("", c.Channel.Backoff.Cap); err == nil && c.Channel.Backoff.Cap != "" {
		b.Cap = d
	}
	return b
}

// StaticEndpoints maps each configured origin to its socket URL, keyed by
// the origin itself.
func (c *Config) StaticEndpoints() (map[string]string, error) {
	out := make(map[string]string, len(c.Channel.Origins))
	for _, o := range c.Channel.Origins {
		u, err := channel.EndpointURL(o, c.Channel.Path)
		if err != nil {
			return nil, err
		}
		out[o] = u
	}
	return out, nil
}

// RegistryEnabled reports whether endpoints come from etcd.
func (c *Config) RegistryEnabled() bool {
	return len(c.Registry.Endpoints) > 0
}
