// Package conf defines the engine configuration and loads it through the
// Kratos config layer.
package conf

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
)

// Engine holds the tunable settings of an engine instance.
type Engine struct {
	// Name identifies the engine instance in logs and events.
	Name string `json:"name" yaml:"name"`
	// HistoryCapacity bounds the lifecycle and event histories.
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity"`
	// InstallParallelism caps concurrent installs of plugins that share a
	// dependency depth. 1 means strictly sequential installation.
	InstallParallelism int `json:"install_parallelism" yaml:"install_parallelism"`
	// CriticalPhases fail fast on hook errors. Empty keeps the defaults
	// (init, mount, destroy).
	CriticalPhases []string `json:"critical_phases" yaml:"critical_phases"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`
	// Retry configures the default install retry policy.
	Retry Retry `json:"retry" yaml:"retry"`
}

// Retry configures exponential backoff for transient install failures.
// MaxRetries 0 disables retrying.
type Retry struct {
	MaxRetries        uint64 `json:"max_retries" yaml:"max_retries"`
	InitialIntervalMs int64  `json:"initial_interval_ms" yaml:"initial_interval_ms"`
}

// InitialInterval returns the configured first backoff interval.
func (r Retry) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

// Default returns the configuration used when nothing is provided: history
// capacity 50, sequential installs, no retries.
func Default() *Engine {
	return &Engine{
		Name:               "ldesign",
		HistoryCapacity:    50,
		InstallParallelism: 1,
		LogLevel:           "info",
	}
}

// Load reads the engine configuration from a config file (yaml or json,
// decided by the Kratos codec for the file extension). Missing keys keep
// their defaults.
func Load(path string) (*Engine, error) {
	c := config.New(config.WithSource(file.NewSource(path)))
	defer func() { _ = c.Close() }()

	if err := c.Load(); err != nil {
		return nil, fmt.Errorf("failed to load engine config from %s: %w", path, err)
	}
	return Scan(c)
}

// Scan extracts the engine configuration from an already-loaded Kratos
// config, under the "engine" key.
func Scan(c config.Config) (*Engine, error) {
	eng := Default()
	if err := c.Value("engine").Scan(eng); err != nil {
		// An absent "engine" section keeps the defaults.
		if !errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("failed to scan engine config: %w", err)
		}
	}
	eng.normalize()
	return eng, nil
}

func (e *Engine) normalize() {
	if e.Name == "" {
		e.Name = "ldesign"
	}
	if e.HistoryCapacity <= 0 {
		e.HistoryCapacity = 50
	}
	if e.InstallParallelism <= 0 {
		e.InstallParallelism = 1
	}
	if e.LogLevel == "" {
		e.LogLevel = "info"
	}
}
