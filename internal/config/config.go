// Package config loads and validates the serialmux configuration.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/serialmux/serialmux/internal/serial"
)

// Config holds the static process configuration. It never changes after
// startup.
type Config struct {
	Device string   `yaml:"device"` // physical serial device path
	Baud   int      `yaml:"baud"`   // baud rate
	Ports  []string `yaml:"ports"`  // virtual port symlink paths, in order
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Baud:  115200,
		Ports: []string{"/dev/ttyV0", "/dev/ttyV1", "/dev/ttyV2"},
	}
}

// Load reads configuration from path, or from the first discovered config
// file when path is empty. Missing files fall back to defaults; explicit
// paths must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = findConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = DefaultConfig().Ports
	}
	return cfg, nil
}

// findConfigPath returns the path of the first config file found.
// Checks the local directory first, then ~/.config/serialmux/.
func findConfigPath() string {
	localPaths := []string{"serialmux.yaml", ".serialmux/config.yaml"}
	for _, p := range localPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "serialmux", "config.yaml")
}

// Validate checks the configuration before any component starts. A
// validation failure is the only fatal error class in the process.
func (c Config) Validate() error {
	if c.Device == "" {
		return &ConfigError{Field: "device", Message: "device path is required"}
	}
	if !filepath.IsAbs(c.Device) {
		return &ConfigError{Field: "device", Message: "device path must be absolute: " + c.Device}
	}
	if c.Baud <= 0 {
		return &ConfigError{Field: "baud", Message: "baud rate must be positive"}
	}
	if !serial.Supported(c.Baud) {
		return &ConfigError{Field: "baud", Message: "unsupported baud rate"}
	}
	if len(c.Ports) == 0 {
		return &ConfigError{Field: "ports", Message: "at least one virtual port is required"}
	}

	seen := make(map[string]bool, len(c.Ports))
	for _, p := range c.Ports {
		if p == "" {
			return &ConfigError{Field: "ports", Message: "virtual port path must not be empty"}
		}
		if !filepath.IsAbs(p) {
			return &ConfigError{Field: "ports", Message: "virtual port path must be absolute: " + p}
		}
		if p == c.Device {
			return &ConfigError{Field: "ports", Message: "virtual port path collides with device path: " + p}
		}
		if seen[p] {
			return &ConfigError{Field: "ports", Message: "duplicate virtual port path: " + p}
		}
		seen[p] = true
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error (" + e.Field + "): " + e.Message
}
