// ABOUTME: Configuration loading and parsing for bridge-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge-gateway configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Roster   RosterConfig   `yaml:"roster"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds the registry database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RosterConfig points at the TOML agent roster file
type RosterConfig struct {
	Path string `yaml:"path"`
}

// BridgeConfig holds protocol timing configuration
type BridgeConfig struct {
	TaskPollInterval time.Duration `yaml:"-"`
	ToolPollWait     time.Duration `yaml:"-"`
	ErrorBackoff     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TaskPollIntervalRaw string `yaml:"task_poll_interval"`
	ToolPollWaitRaw     string `yaml:"tool_poll_wait"`
	ErrorBackoffRaw     string `yaml:"error_backoff"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Roster.Path == "" {
		return fmt.Errorf("roster.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bridge.TaskPollIntervalRaw != "" {
		cfg.Bridge.TaskPollInterval, err = time.ParseDuration(cfg.Bridge.TaskPollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing task_poll_interval %q: %w", cfg.Bridge.TaskPollIntervalRaw, err)
		}
	}

	if cfg.Bridge.ToolPollWaitRaw != "" {
		cfg.Bridge.ToolPollWait, err = time.ParseDuration(cfg.Bridge.ToolPollWaitRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_poll_wait %q: %w", cfg.Bridge.ToolPollWaitRaw, err)
		}
	}

	if cfg.Bridge.ErrorBackoffRaw != "" {
		cfg.Bridge.ErrorBackoff, err = time.ParseDuration(cfg.Bridge.ErrorBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing error_backoff %q: %w", cfg.Bridge.ErrorBackoffRaw, err)
		}
	}

	return nil
}
