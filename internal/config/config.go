// Package config loads and validates OpsAtlas configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for the application
type Config struct {
	// ListenAddr is the address and port for the web server
	ListenAddr string `toml:"listen_addr"`

	// DatabasePath is the path to the SQLite database file
	DatabasePath string `toml:"database_path"`

	// LogDir is the directory log files are written to
	LogDir string `toml:"log_dir"`

	// ClassifierRulesPath optionally overrides the built-in progress
	// message classification rules with a YAML rule file
	ClassifierRulesPath string `toml:"classifier_rules_path"`

	// RecomputeSchedule is the cron expression for the scheduled
	// knowledge-graph recompute job
	RecomputeSchedule string `toml:"recompute_schedule"`

	// JobRetention is how long finished job records are kept
	JobRetention duration `toml:"job_retention"`

	// LLM holds the optional settings for LLM-assisted process discovery
	LLM LLMConfig `toml:"llm"`
}

// LLMConfig configures the optional LLM identification step. With an empty
// APIKey discovery falls back to heuristic identification.
type LLMConfig struct {
	APIKey string `toml:"api_key"`
	APIURL string `toml:"api_url"`
	Model  string `toml:"model"`
}

// duration lets TOML carry values like "72h"
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// defaultConfig returns the default configuration
func defaultConfig() *Config {
	return &Config{
		ListenAddr:        ":8092",
		DatabasePath:      "opsatlas.db",
		LogDir:            "logs",
		RecomputeSchedule: "0 3 * * *",
		JobRetention:      duration{7 * 24 * time.Hour},
	}
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	config := defaultConfig()

	configPath := os.Getenv("OPSATLAS_CONFIG")
	if configPath == "" {
		configPath = "config.toml"
	}
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.validate(); err != nil {
		return nil, err
	}

	// Keep the database path absolute so cron jobs and workers agree on it
	if !filepath.IsAbs(config.DatabasePath) {
		absPath, err := filepath.Abs(config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		config.DatabasePath = absPath
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("OPSATLAS_LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if dbPath := os.Getenv("OPSATLAS_DATABASE_PATH"); dbPath != "" {
		config.DatabasePath = dbPath
	}
	if logDir := os.Getenv("OPSATLAS_LOG_DIR"); logDir != "" {
		config.LogDir = logDir
	}
	if rules := os.Getenv("OPSATLAS_CLASSIFIER_RULES"); rules != "" {
		config.ClassifierRulesPath = rules
	}
	if schedule := os.Getenv("OPSATLAS_RECOMPUTE_SCHEDULE"); schedule != "" {
		config.RecomputeSchedule = schedule
	}
	if retention := os.Getenv("OPSATLAS_JOB_RETENTION"); retention != "" {
		if parsed, err := time.ParseDuration(retention); err == nil {
			config.JobRetention = duration{parsed}
		}
	}
	if key := os.Getenv("OPSATLAS_LLM_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if url := os.Getenv("OPSATLAS_LLM_API_URL"); url != "" {
		config.LLM.APIURL = url
	}
	if model := os.Getenv("OPSATLAS_LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if !strings.HasPrefix(c.ListenAddr, ":") {
		// Accept host:port too, but the port must be numeric
		parts := strings.Split(c.ListenAddr, ":")
		if len(parts) != 2 {
			return fmt.Errorf("invalid listen_addr %q", c.ListenAddr)
		}
		if _, err := strconv.Atoi(parts[1]); err != nil {
			return fmt.Errorf("invalid port in listen_addr %q", c.ListenAddr)
		}
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.JobRetention.Duration <= 0 {
		return fmt.Errorf("job_retention must be positive")
	}
	return nil
}

// JobRetentionDuration returns the configured retention window
func (c *Config) JobRetentionDuration() time.Duration {
	return c.JobRetention.Duration
}

// String returns a loggable representation of the configuration
func (c *Config) String() string {
	parts := []string{
		fmt.Sprintf("ListenAddr: %s", c.ListenAddr),
		fmt.Sprintf("DatabasePath: %s", c.DatabasePath),
		fmt.Sprintf("LogDir: %s", c.LogDir),
		fmt.Sprintf("RecomputeSchedule: %s", c.RecomputeSchedule),
		fmt.Sprintf("JobRetention: %s", c.JobRetention.Duration),
	}
	return strings.Join(parts, ", ")
}
