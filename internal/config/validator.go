package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/malms/internal/bench"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

const (
	defaultShutdownTimeoutS = 5
	defaultEventBuffer      = 64
	defaultSortSize         = 1 << 20
	defaultQoS              = byte(1)
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = defaultShutdownTimeoutS
	}

	if err := validateScheduler(&cfg.Scheduler); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := validateSort(&cfg.Sort); err != nil {
		return fmt.Errorf("sort: %w", err)
	}
	if err := validateMQTT(cfg.Events.MQTT, cfg.InstanceID); err != nil {
		return fmt.Errorf("events.mqtt: %w", err)
	}

	return nil
}

func validateScheduler(s *SchedulerConfig) error {
	if s.Cores < 0 {
		return fmt.Errorf("cores must be >= 0")
	}
	if s.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must be >= 0")
	}
	if s.EventBuffer == 0 {
		s.EventBuffer = defaultEventBuffer
	}
	return nil
}

func validateSort(s *SortConfig) error {
	if s.Pakets < 0 {
		return fmt.Errorf("pakets must be >= 0")
	}
	if s.Repeat < 0 {
		return fmt.Errorf("repeat must be >= 0")
	}
	if s.Repeat == 0 {
		s.Repeat = 1
	}

	// An input file overrides generation.
	if s.Input != "" {
		return nil
	}

	if s.Generator == "" {
		s.Generator = "uniform"
	}
	if _, err := bench.ParseKind(s.Generator); err != nil {
		return err
	}
	if s.Size < 0 {
		return fmt.Errorf("size must be >= 0")
	}
	if s.Size == 0 {
		s.Size = defaultSortSize
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	if m == nil {
		return nil
	}
	if m.Broker == "" {
		return fmt.Errorf("broker is required")
	}

	// Set defaults if not provided
	if m.Topic == "" {
		m.Topic = fmt.Sprintf("malms/cores/%s", instanceID)
	}
	if m.ClientID == "" {
		m.ClientID = instanceID
	}
	if m.QoS == nil {
		qos := defaultQoS
		m.QoS = &qos
	}
	if *m.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}
	return nil
}
