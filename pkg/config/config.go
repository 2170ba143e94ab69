// Package config handles configuration loading for connection profiles.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/commatea/emodbus/pkg/logger"
	"github.com/commatea/emodbus/pkg/mib"
	"github.com/commatea/emodbus/pkg/transaction"
	"github.com/commatea/emodbus/pkg/transport/serial"
	"github.com/commatea/emodbus/pkg/transport/tcp"
)

// Default config file locations.
var configPaths = []string{
	"./emodbus.yaml",
	"./emodbus.yml",
	"~/.config/emodbus/config.yaml",
	"/etc/emodbus/config.yaml",
}

// SlaveConfig holds the logical-name table for one slave.
type SlaveConfig struct {
	SlaveID byte        `yaml:"slave_id" json:"slave_id" validate:"max=247"`
	Entries []mib.Entry `yaml:"entries" json:"entries" validate:"required,dive"`
}

// Config is a complete connection profile: which link to open, how to
// drive transactions over it, and the names defined on each slave.
type Config struct {
	Transport string             `yaml:"transport" json:"transport" validate:"required,oneof=tcp rtu ascii"`
	TCP       tcp.Config         `yaml:"tcp" json:"tcp" validate:"-"`
	Serial    serial.Config      `yaml:"serial" json:"serial" validate:"-"`
	Policy    transaction.Policy `yaml:"policy" json:"policy"`
	Logging   logger.Config      `yaml:"logging" json:"logging"`
	Slaves    []SlaveConfig      `yaml:"slaves" json:"slaves" validate:"dive"`
}

// Load loads configuration from file.
func Load(path string) (*Config, error) {
	// If path is specified, use it directly
	if path != "" {
		return loadFile(path)
	}

	// Try default paths
	for _, p := range configPaths {
		// Expand home directory
		if p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}

		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	// Return default config if no file found
	return DefaultConfig(), nil
}

// loadFile loads configuration from a specific file.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}

	return cfg, nil
}

// Validate validates the configuration. Only the settings of the
// selected transport are checked; the other transport's section may
// stay at its zero value.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	switch cfg.Transport {
	case "tcp":
		if err := validate.Struct(cfg.TCP); err != nil {
			return err
		}
	case "rtu", "ascii":
		if err := validate.Struct(cfg.Serial); err != nil {
			return err
		}
	}
	for _, s := range cfg.Slaves {
		for _, e := range s.Entries {
			if !e.FunctionCode.Valid() {
				return fmt.Errorf("slave %d entry %q: unsupported function code 0x%02X",
					s.SlaveID, e.Name, byte(e.FunctionCode))
			}
		}
	}
	return nil
}

// Save saves configuration to file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a default configuration: Modbus TCP on the
// standard port with the default transaction policy.
func DefaultConfig() *Config {
	return &Config{
		Transport: "tcp",
		TCP:       tcp.DefaultConfig(),
		Serial:    serial.DefaultConfig(),
		Policy:    transaction.DefaultPolicy(),
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
