package config

import (
	"fmt"
	"strings"
	"time"
)

type (
	Config struct {
		Logging   LoggingConfig             `yaml:"logging"`
		Metrics   MetricsConfig             `yaml:"metrics"`
		Sandbox   SandboxConfig             `yaml:"sandbox"`
		Watcher   WatcherConfig             `yaml:"watcher"`
		Scheduler SchedulerConfig           `yaml:"scheduler"`
		Providers map[string]ProviderConfig `yaml:"providers"`

		// DefaultProvider is the process-wide fallback when a group has no
		// explicit override.
		DefaultProvider string `yaml:"default_provider"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	MetricsConfig struct {
		Enabled bool   `yaml:"enabled"`
		Bind    string `yaml:"bind"`
	}

	SandboxConfig struct {
		// Runtime is the container runtime binary, e.g. "docker" or "podman".
		Runtime        string `yaml:"runtime"`
		TimeoutSec     int    `yaml:"timeout_sec"`
		MaxStdoutBytes int    `yaml:"max_stdout_bytes"`
		MaxStderrBytes int    `yaml:"max_stderr_bytes"`
		// Verbose writes full captured streams into the per-invocation
		// audit file instead of only the stderr tail on failure.
		Verbose bool `yaml:"verbose"`
	}

	WatcherConfig struct {
		Enabled         *bool `yaml:"enabled"`
		PollIntervalSec int   `yaml:"poll_interval_sec"`
	}

	SchedulerConfig struct {
		Enabled         *bool `yaml:"enabled"`
		TickIntervalSec int   `yaml:"tick_interval_sec"`
	}

	ProviderConfig struct {
		ID string `yaml:"-"`
		// Type selects the backend family: claude or codex.
		Type  string `yaml:"type"`
		Image string `yaml:"image"`
		// CredentialsDir is bind-mounted read-only into the sandbox.
		CredentialsDir string `yaml:"credentials_dir"`
		// SessionsDir holds backend-native session state, mounted read-write.
		SessionsDir string `yaml:"sessions_dir"`
		Env         map[string]string `yaml:"env"`
	}
)

var supportedProviderTypes = map[string]bool{
	"claude": true,
	"codex":  true,
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Output)) {
	case "", "stdout":
	case "file", "both":
		if strings.TrimSpace(c.Logging.File) == "" {
			return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
		}
	default:
		return fmt.Errorf("unsupported logging output: %s", c.Logging.Output)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for id, p := range c.Providers {
		if !supportedProviderTypes[strings.ToLower(strings.TrimSpace(p.Type))] {
			return fmt.Errorf("provider %s: unsupported type %q", id, p.Type)
		}
		if strings.TrimSpace(p.Image) == "" {
			return fmt.Errorf("provider %s: image is required", id)
		}
	}

	def := strings.TrimSpace(c.DefaultProvider)
	if def == "" {
		return fmt.Errorf("default_provider is required")
	}
	if _, ok := c.Providers[def]; !ok {
		return fmt.Errorf("default_provider %q is not a configured provider", def)
	}

	return nil
}

// ApplyDefaults fills zero-valued knobs and stamps provider IDs.
func (c *Config) ApplyDefaults() {
	if c.Sandbox.Runtime == "" {
		c.Sandbox.Runtime = "docker"
	}
	if c.Sandbox.TimeoutSec <= 0 {
		c.Sandbox.TimeoutSec = 600
	}
	if c.Sandbox.MaxStdoutBytes <= 0 {
		c.Sandbox.MaxStdoutBytes = 1 << 20
	}
	if c.Sandbox.MaxStderrBytes <= 0 {
		c.Sandbox.MaxStderrBytes = 256 << 10
	}
	if c.Watcher.PollIntervalSec <= 0 {
		c.Watcher.PollIntervalSec = 2
	}
	if c.Scheduler.TickIntervalSec <= 0 {
		c.Scheduler.TickIntervalSec = 15
	}
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = "127.0.0.1:9321"
	}
	for id, p := range c.Providers {
		p.ID = id
		c.Providers[id] = p
	}
}

func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

func (c *Config) WatcherEnabled() bool {
	return c.Watcher.Enabled == nil || *c.Watcher.Enabled
}

func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}
