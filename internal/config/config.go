// Package config holds tunables for the detectors, the risk scorer,
// and logging. Values are loaded from environment variables with
// struct-tag defaults, so a bare process runs with the documented
// default thresholds.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all simulation tunables.
type Config struct {
	Detect DetectConfig
	Risk   RiskConfig
	Log    LogConfig
}

// DetectConfig holds detector thresholds.
type DetectConfig struct {
	// BottleneckWaiters is the number of simultaneous waiters a resource
	// must exceed before it counts toward a bottleneck episode.
	BottleneckWaiters int `envconfig:"BOTTLENECK_WAITERS" default:"2"`
	// BottleneckWindow is the number of consecutive qualifying steps a
	// resource must exceed before it is reported.
	BottleneckWindow int `envconfig:"BOTTLENECK_WINDOW" default:"3"`
}

// RiskConfig holds scoring weights and category thresholds.
type RiskConfig struct {
	WeightDeadlock   float64 `envconfig:"RISK_WEIGHT_DEADLOCK" default:"10"`
	WeightUnsafe     float64 `envconfig:"RISK_WEIGHT_UNSAFE" default:"6"`
	WeightBottleneck float64 `envconfig:"RISK_WEIGHT_BOTTLENECK" default:"3"`
	MediumThreshold  float64 `envconfig:"RISK_MEDIUM_THRESHOLD" default:"5"`
	HighThreshold    float64 `envconfig:"RISK_HIGH_THRESHOLD" default:"15"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("IPCSIM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Detect: DetectConfig{
			BottleneckWaiters: 2,
			BottleneckWindow:  3,
		},
		Risk: RiskConfig{
			WeightDeadlock:   10,
			WeightUnsafe:     6,
			WeightBottleneck: 3,
			MediumThreshold:  5,
			HighThreshold:    15,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
