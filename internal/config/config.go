// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Console ConsoleConfig `yaml:"console"`
}

type ConsoleConfig struct {
	StatusDir      string `yaml:"status_dir"`
	ScanIntervalMs int    `yaml:"scan_interval_ms"`
	TickIntervalMs int    `yaml:"tick_interval_ms"`
	WorkerBinary   string `yaml:"worker_binary"`

	IPC   IPCConfig    `yaml:"ipc"`
	Ports []PortConfig `yaml:"ports"`
}

// ---- IPC ----

type IPCConfig struct {
	Dir              string `yaml:"dir"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	RetryIntervalMs  int    `yaml:"retry_interval_ms"`
	IOTimeoutMs      int    `yaml:"io_timeout_ms"`
}

// ---- PORT ----

type PortConfig struct {
	Name      string        `yaml:"name"`
	Baud      int           `yaml:"baud"`
	Polling   bool          `yaml:"polling"`
	TimeoutMs int           `yaml:"timeout_ms"`
	Ranges    []RangeConfig `yaml:"ranges"`
}

// ---- RANGE GEOMETRY ----

type RangeConfig struct {
	Station uint8  `yaml:"station"`
	Kind    string `yaml:"kind"`
	Address uint16 `yaml:"address"`
	Length  uint16 `yaml:"length"`
	Role    string `yaml:"role"`

	// DataSource selects where a slave-role range obtains values to
	// serve. Empty means static zeros.
	DataSource string `yaml:"data_source"`
}

// Load reads and parses a YAML configuration document.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
