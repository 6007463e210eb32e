// Package config loads the coordination runtime's configuration from a
// YAML file with environment-variable overrides, per §6.5.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentrium/runtime/internal/obs"
	"gopkg.in/yaml.v3"
)

// RiskTolerance mirrors the governance layer's risk posture enum.
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate      RiskTolerance = "moderate"
	RiskAggressive    RiskTolerance = "aggressive"
)

// ServerConfig holds the HTTP/WS listen settings.
type ServerConfig struct {
	Port     int `yaml:"port" json:"port"`
	NATSPort int `yaml:"nats_port" json:"nats_port"`
}

// BusConfig holds the Shared Bus's tunables.
type BusConfig struct {
	ChannelCapacity    int           `yaml:"channel_capacity" json:"channel_capacity"`
	HistoryRetention   time.Duration `yaml:"history_retention" json:"history_retention"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// EconomyConfig holds the Economy Loop's tunables.
type EconomyConfig struct {
	Continuous      bool          `yaml:"continuous" json:"continuous"`
	CycleInterval   time.Duration `yaml:"cycle_interval" json:"cycle_interval"`
	PhaseSettle     time.Duration `yaml:"phase_settle" json:"phase_settle"`
	InterPhaseSleep time.Duration `yaml:"inter_phase_sleep" json:"inter_phase_sleep"`
}

// GovernanceConfig holds the Governance Layer's tunables.
type GovernanceConfig struct {
	MonitoringInterval     time.Duration `yaml:"monitoring_interval" json:"monitoring_interval"`
	MinROIThreshold        float64       `yaml:"min_roi_threshold" json:"min_roi_threshold"`
	PoorCycleThreshold     int           `yaml:"poor_cycle_threshold" json:"poor_cycle_threshold"`
	MaxPerformanceVariance float64       `yaml:"max_performance_variance" json:"max_performance_variance"`
	AutoAdjustmentEnabled  bool          `yaml:"auto_adjustment_enabled" json:"auto_adjustment_enabled"`
	RiskTolerance          RiskTolerance `yaml:"risk_tolerance" json:"risk_tolerance"`
}

// Config is the coordination runtime's root configuration.
type Config struct {
	MemoryPath string           `yaml:"memory_path" json:"memory_path"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Bus        BusConfig        `yaml:"bus" json:"bus"`
	Economy    EconomyConfig    `yaml:"economy" json:"economy"`
	Governance GovernanceConfig `yaml:"governance" json:"governance"`
}

// Default returns the reference defaults named throughout spec.md (channel
// capacity 1000, 24h cycle interval, 6h governance interval, etc).
func Default() *Config {
	return &Config{
		MemoryPath: "data",
		Server: ServerConfig{
			Port:     8080,
			NATSPort: 4223,
		},
		Bus: BusConfig{
			ChannelCapacity:  1000,
			HistoryRetention: time.Hour,
			CleanupInterval:  5 * time.Minute,
		},
		Economy: EconomyConfig{
			Continuous:      false,
			CycleInterval:   24 * time.Hour,
			PhaseSettle:     3 * time.Second,
			InterPhaseSleep: 5 * time.Second,
		},
		Governance: GovernanceConfig{
			MonitoringInterval:     6 * time.Hour,
			MinROIThreshold:        0.05,
			PoorCycleThreshold:     3,
			MaxPerformanceVariance: 0.3,
			AutoAdjustmentEnabled:  true,
			RiskTolerance:          RiskModerate,
		},
	}
}

// Load reads a YAML config file and layers environment overrides on top,
// validating the result. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, obs.Config(fmt.Sprintf("failed to parse config YAML %s", path), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, obs.Config(fmt.Sprintf("failed to read config file %s", path), err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, obs.Config("invalid configuration", err)
	}
	return cfg, nil
}

// applyEnvOverrides implements §6.5: memory path, bus capacities, cycle
// interval, governance interval, risk tolerance flag, auto-adjustment flag.
// Unknown variables are ignored; malformed values are rejected.
func (c *Config) applyEnvOverrides() error {
	if v := strings.TrimSpace(os.Getenv("COORD_MEMORY_PATH")); v != "" {
		c.MemoryPath = v
	}
	if v := strings.TrimSpace(os.Getenv("COORD_BUS_CAPACITY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return obs.Config("COORD_BUS_CAPACITY must be an integer", err)
		}
		c.Bus.ChannelCapacity = n
	}
	if v := strings.TrimSpace(os.Getenv("COORD_CYCLE_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return obs.Config("COORD_CYCLE_INTERVAL must be a duration", err)
		}
		c.Economy.CycleInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("COORD_GOVERNANCE_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return obs.Config("COORD_GOVERNANCE_INTERVAL must be a duration", err)
		}
		c.Governance.MonitoringInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("COORD_RISK_TOLERANCE")); v != "" {
		switch RiskTolerance(v) {
		case RiskConservative, RiskModerate, RiskAggressive:
			c.Governance.RiskTolerance = RiskTolerance(v)
		default:
			return obs.Config(fmt.Sprintf("COORD_RISK_TOLERANCE %q is not a recognized risk tolerance", v), nil)
		}
	}
	if v := strings.TrimSpace(os.Getenv("COORD_AUTO_ADJUSTMENT")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return obs.Config("COORD_AUTO_ADJUSTMENT must be a boolean", err)
		}
		c.Governance.AutoAdjustmentEnabled = b
	}
	return nil
}

// Validate rejects malformed configuration at startup (the only fatal
// ConfigError case per §7).
func (c *Config) Validate() error {
	if c.MemoryPath == "" {
		return fmt.Errorf("memory_path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.NATSPort <= 0 || c.Server.NATSPort > 65535 {
		return fmt.Errorf("invalid NATS port: %d", c.Server.NATSPort)
	}
	if c.Bus.ChannelCapacity <= 0 {
		return fmt.Errorf("bus channel_capacity must be positive")
	}
	if c.Economy.CycleInterval <= 0 {
		return fmt.Errorf("economy cycle_interval must be positive")
	}
	if c.Governance.MonitoringInterval <= 0 {
		return fmt.Errorf("governance monitoring_interval must be positive")
	}
	switch c.Governance.RiskTolerance {
	case RiskConservative, RiskModerate, RiskAggressive:
	default:
		return fmt.Errorf("governance risk_tolerance %q is not recognized", c.Governance.RiskTolerance)
	}
	return nil
}
