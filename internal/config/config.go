package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all i2run configuration.
type Config struct {
	// Root of the task installation. Schema documents and include
	// references are resolved relative to it.
	Root string `yaml:"root"`

	// TaskIndex is the task name -> schema path cache, relative to Root.
	TaskIndex string `yaml:"task_index"`

	// TasksFile holds the HCL executor task definitions.
	TasksFile string `yaml:"tasks_file"`

	Database DatabaseConfig `yaml:"database"`
	Poll     PollConfig     `yaml:"poll"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig configures the project database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PollConfig configures the tracked-mode completion poll.
type PollConfig struct {
	Interval string `yaml:"interval"`
	Timeout  string `yaml:"timeout"` // empty or "0" means no deadline
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".i2run")
	return &Config{
		Root:      base,
		TaskIndex: "DefXMLCache.json",
		TasksFile: filepath.Join(base, "tasks.hcl"),
		Database: DatabaseConfig{
			Path: filepath.Join(base, "db", "database.sqlite"),
		},
		Poll: PollConfig{
			Interval: "4s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".i2run", "config.yaml")
	}
	return filepath.Join(home, ".i2run", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if _, err := cfg.Poll.IntervalDuration(); err != nil {
		return nil, err
	}
	if _, err := cfg.Poll.TimeoutDuration(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CCP4I2_TOP"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("I2RUN_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("I2RUN_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("I2RUN_TASKS"); v != "" {
		c.TasksFile = v
	}
	if v := os.Getenv("I2RUN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// IntervalDuration parses the poll interval.
func (p PollConfig) IntervalDuration() (time.Duration, error) {
	if p.Interval == "" {
		return 4 * time.Second, nil
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll interval %q: %w", p.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid poll interval %q: must be positive", p.Interval)
	}
	return d, nil
}

// TimeoutDuration parses the poll deadline. Zero means none.
func (p PollConfig) TimeoutDuration() (time.Duration, error) {
	if p.Timeout == "" || p.Timeout == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid poll timeout %q: %w", p.Timeout, err)
	}
	return d, nil
}
