package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete malmsd configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	LogLevel         string          `yaml:"log_level"`          // debug, info, warn, error (default: info)
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Scheduler        SchedulerConfig `yaml:"scheduler"`
	Sort             SortConfig      `yaml:"sort"`
	Events           EventsConfig    `yaml:"events"`
	Health           HealthConfig    `yaml:"health"`
}

// SchedulerConfig contains worker pool settings
type SchedulerConfig struct {
	Cores       int  `yaml:"cores"`        // 0 = every CPU
	Pin         bool `yaml:"pin"`          // pin worker i to the i-th allowed CPU
	EventBuffer int  `yaml:"event_buffer"` // availability event channel capacity
}

// SortConfig describes the sort loop run by the daemon
type SortConfig struct {
	Pakets    int    `yaml:"pakets"`    // 0 = one per core
	CopyBack  bool   `yaml:"copy_back"` // merge into scratch, then copy phase
	Input     string `yaml:"input"`     // binary int32 file; empty = generate
	Generator string `yaml:"generator"` // benchmark kind when generating
	Size      int    `yaml:"size"`      // elements to generate
	Groups    int    `yaml:"groups"`    // g for the g-group generator
	Range     int    `yaml:"range"`     // value range for randomized duplicates
	Repeat    int    `yaml:"repeat"`    // sorts to run (default: 1)
}

// EventsConfig contains the availability event transports
type EventsConfig struct {
	Socket SocketConfig `yaml:"socket"`
	MQTT   *MQTTConfig  `yaml:"mqtt,omitempty"`
}

// SocketConfig enables the unix socket source when Path is set
type SocketConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      *byte  `yaml:"qos"`
	ClientID string `yaml:"client_id"`
}

// HealthConfig enables the HTTP health endpoint when Addr is set
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Call after Validate.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ShutdownTimeout returns ShutdownTimeoutS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
