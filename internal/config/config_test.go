package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Baud != 115200 {
		t.Errorf("expected baud 115200, got %d", cfg.Baud)
	}
	if len(cfg.Ports) != 3 {
		t.Fatalf("expected 3 default ports, got %d", len(cfg.Ports))
	}
	if cfg.Ports[0] != "/dev/ttyV0" {
		t.Errorf("expected first port '/dev/ttyV0', got '%s'", cfg.Ports[0])
	}
	if cfg.Device != "" {
		t.Errorf("expected no default device, got '%s'", cfg.Device)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Device: "/dev/ttyUSB0",
		Baud:   115200,
		Ports:  []string{"/dev/ttyV0", "/dev/ttyV1"},
	}

	tests := []struct {
		name     string
		mutate   func(c *Config)
		wantErr  bool
		errField string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:     "missing device",
			mutate:   func(c *Config) { c.Device = "" },
			wantErr:  true,
			errField: "device",
		},
		{
			name:     "relative device path",
			mutate:   func(c *Config) { c.Device = "ttyUSB0" },
			wantErr:  true,
			errField: "device",
		},
		{
			name:     "zero baud",
			mutate:   func(c *Config) { c.Baud = 0 },
			wantErr:  true,
			errField: "baud",
		},
		{
			name:     "unsupported baud",
			mutate:   func(c *Config) { c.Baud = 12345 },
			wantErr:  true,
			errField: "baud",
		},
		{
			name:     "no ports",
			mutate:   func(c *Config) { c.Ports = nil },
			wantErr:  true,
			errField: "ports",
		},
		{
			name:     "empty port path",
			mutate:   func(c *Config) { c.Ports = []string{"/dev/ttyV0", ""} },
			wantErr:  true,
			errField: "ports",
		},
		{
			name:     "relative port path",
			mutate:   func(c *Config) { c.Ports = []string{"ttyV0"} },
			wantErr:  true,
			errField: "ports",
		},
		{
			name:     "duplicate port paths",
			mutate:   func(c *Config) { c.Ports = []string{"/dev/ttyV0", "/dev/ttyV0"} },
			wantErr:  true,
			errField: "ports",
		},
		{
			name:     "port collides with device",
			mutate:   func(c *Config) { c.Ports = []string{"/dev/ttyUSB0"} },
			wantErr:  true,
			errField: "ports",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Ports = append([]string(nil), valid.Ports...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				cfgErr, ok := err.(*ConfigError)
				if !ok {
					t.Fatalf("Validate() error type = %T, want *ConfigError", err)
				}
				if cfgErr.Field != tt.errField {
					t.Errorf("Validate() error field = %s, want %s", cfgErr.Field, tt.errField)
				}
			}
		})
	}
}

func TestLoad_NoFile(t *testing.T) {
	tmpDir := t.TempDir()

	oldDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Baud != 115200 {
		t.Errorf("expected default baud 115200, got %d", cfg.Baud)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with an explicit missing path should fail")
	}
}

func TestLoad_WithFile(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `
device: /dev/ttyACM0
baud: 57600
ports:
  - /dev/ttyV9
`
	configPath := filepath.Join(tmpDir, "serialmux.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device != "/dev/ttyACM0" {
		t.Errorf("expected device '/dev/ttyACM0', got '%s'", cfg.Device)
	}
	if cfg.Baud != 57600 {
		t.Errorf("expected baud 57600, got %d", cfg.Baud)
	}
	if len(cfg.Ports) != 1 || cfg.Ports[0] != "/dev/ttyV9" {
		t.Errorf("expected ports [/dev/ttyV9], got %v", cfg.Ports)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "serialmux.yaml")
	if err := os.WriteFile(configPath, []byte("device: /dev/ttyUSB1\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Baud != 115200 {
		t.Errorf("expected default baud 115200, got %d", cfg.Baud)
	}
	if len(cfg.Ports) != 3 {
		t.Errorf("expected default ports, got %v", cfg.Ports)
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "device", Message: "device path is required"}
	expected := "config error (device): device path is required"
	if err.Error() != expected {
		t.Errorf("Error() = %s, want %s", err.Error(), expected)
	}
}
