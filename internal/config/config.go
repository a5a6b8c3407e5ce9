// Package config loads and saves the TOML configuration of the meshnode
// binary. The protocol layers themselves are configuration-free;
// everything here concerns one simulated unit's identity and where to find
// the shared-medium hub.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultHubURL is where a unit looks for the shared-medium hub when none is
// configured.
const DefaultHubURL = "ws://localhost:9464/medium"

// DefaultHubListen is the hub's default listen address.
const DefaultHubListen = ":9464"

// Config is the top-level configuration, persisted as a TOML file.
type Config struct {
	Unit    UnitConfig    `toml:"unit"`
	Hub     HubConfig     `toml:"hub"`
	Metrics MetricsConfig `toml:"metrics"`
}

// UnitConfig identifies this unit.
type UnitConfig struct {
	// Name is a human-readable label for logs.
	Name string `toml:"name"`

	// Identity is the unit's 16-bit identity word, written as hex
	// (e.g. "0x0029"). It stands in for the fused hardware word.
	Identity Identity `toml:"identity"`
}

// HubConfig locates the shared-medium hub.
type HubConfig struct {
	// URL is the WebSocket URL of the medium hub.
	URL string `toml:"url"`

	// Listen is a hub listen address. Neither binary reads it: meshnode
	// does not use it and meshhub binds the address given by its -addr flag.
	Listen string `toml:"listen,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `toml:"listen,omitempty"`
}

// Identity is a 16-bit identity word that marshals as a hex string in TOML.
type Identity uint16

// UnmarshalText accepts hex ("0x0029") or decimal notation.
func (i *Identity) UnmarshalText(text []byte) error {
	var v uint16
	if _, err := fmt.Sscanf(string(text), "0x%x", &v); err != nil {
		if _, err := fmt.Sscanf(string(text), "%d", &v); err != nil {
			return fmt.Errorf("parsing identity word %q: %w", text, err)
		}
	}
	*i = Identity(v)
	return nil
}

// MarshalText renders the word as four hex digits.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%04x", uint16(i))), nil
}

// DefaultConfig returns a Config with the simulator defaults. The identity
// word is left zero and must be set by `meshnode init` or the --identity
// flag.
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			URL:    DefaultHubURL,
			Listen: DefaultHubListen,
		},
	}
}

// DefaultConfigPath returns the per-user config location,
// $XDG_CONFIG_HOME/meshnode/config.toml.
func DefaultConfigPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "meshnode", "config.toml"), nil
}

// LoadConfig reads a config file, overlaying it on the defaults. A missing
// file is reported wrapping fs.ErrNotExist so callers can fall back to
// defaults where that is acceptable.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// SaveConfig writes the config, creating parent directories as needed.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// applyDefaults fills in optional fields left zero after decoding.
func applyDefaults(cfg *Config) {
	if cfg.Hub.URL == "" {
		cfg.Hub.URL = DefaultHubURL
	}
	if cfg.Hub.Listen == "" {
		cfg.Hub.Listen = DefaultHubListen
	}
}
