// Package config models the orchestrator's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Secrets (database URL, port) may be
// overridden by environment variables so the file itself stays checked in.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Executor struct {
		Workers        int `yaml:"workers"`
		QueueSize      int `yaml:"queue_size"`
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"executor"`

	Approval struct {
		MandatoryNeedsApproval bool     `yaml:"mandatory_needs_approval"`
		ActionTypes            []string `yaml:"action_types"`
	} `yaml:"approval"`

	Stats struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"stats"`

	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	// Targets maps target module names to the webhook URLs that implement
	// their apply-action operation.
	Targets map[string]string `yaml:"targets"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Executor.Workers = 8
	cfg.Executor.QueueSize = 512
	cfg.Executor.TimeoutSeconds = 30
	cfg.Approval.MandatoryNeedsApproval = true
	cfg.Approval.ActionTypes = []string{"create_pip", "suggest_succession"}
	cfg.Stats.CacheTTLSeconds = 5
	cfg.NATS.Subject = "hr.triggers"
	return cfg
}

// Load reads the config file at path, or defaults when path is empty, then
// applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port %d out of range", c.Server.Port)
	}
	if c.Executor.Workers <= 0 {
		return fmt.Errorf("config.executor.workers must be positive")
	}
	if c.Executor.QueueSize <= 0 {
		return fmt.Errorf("config.executor.queue_size must be positive")
	}
	if c.Executor.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.executor.timeout_seconds must be positive")
	}
	for module, url := range c.Targets {
		if module == "" || url == "" {
			return fmt.Errorf("config.targets entries need both a module name and a url")
		}
	}
	return nil
}

// ExecutorTimeout returns the per-call timeout as a duration.
func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSeconds) * time.Second
}

// StatsTTL returns the stats cache TTL; zero disables caching.
func (c *Config) StatsTTL() time.Duration {
	return time.Duration(c.Stats.CacheTTLSeconds) * time.Second
}
