package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SchedulerConfig controls admission limits, sweeps, and per-job timeouts.
type SchedulerConfig struct {
	GlobalLimit          int            `toml:"global_limit"`           // Max jobs in flight across all sessions
	SessionLimit         int            `toml:"session_limit"`          // Max jobs in flight per session
	CategoryLimit        int            `toml:"category_limit"`         // Default max jobs in flight per category
	CategoryLimits       map[string]int `toml:"category_limits"`        // Per-category overrides
	PriorityCategories   []string       `toml:"priority_categories"`    // Categories that always sort ahead of numeric priority
	JobTimeout           string         `toml:"job_timeout"`            // Hard per-job timeout, e.g. "10m"
	StaleThreshold       string         `toml:"stale_threshold"`        // Age before an acknowledged job is considered abandoned
	RecoverySchedule     string         `toml:"recovery_schedule"`      // Cron spec for the recovery sweep
	RetentionSchedule    string         `toml:"retention_schedule"`     // Cron spec for the retention sweep
	RetentionAge         string         `toml:"retention_age"`          // Terminal jobs older than this are deleted
	DrainInterval        string         `toml:"drain_interval"`         // Safety-net queue drain tick
	PartialFlushInterval string         `toml:"partial_flush_interval"` // Min interval between partial-output persists
}

// ClaudeConfig contains Anthropic provider settings
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

// GeminiConfig contains Google Gemini provider settings
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

// WebSocketConfig controls the job event broadcast endpoint
type WebSocketConfig struct {
	AllowedEvents     []string          `toml:"allowed_events"`     // Whitelist of event types to broadcast (empty = all)
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // Per-event minimum broadcast interval
}

// NewDefaultConfig returns a config with baked-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8190,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/mitto",
			},
		},
		Scheduler: SchedulerConfig{
			GlobalLimit:          10,
			SessionLimit:         5,
			CategoryLimit:        2,
			CategoryLimits:       map[string]int{"chat": 5, "file-operation": 4},
			PriorityCategories:   []string{"file-operation"},
			JobTimeout:           "10m",
			StaleThreshold:       "5m",
			RecoverySchedule:     "@every 1m",
			RetentionSchedule:    "@every 1h",
			RetentionAge:         "720h", // 30 days
			DrainInterval:        "5s",
			PartialFlushInterval: "2s",
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			Timeout:   "5m",
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "5m",
		},
		WebSocket: WebSocketConfig{
			ThrottleIntervals: map[string]string{"job_progress": "1s"},
		},
	}
}

// LoadFromFiles loads configuration from one or more TOML files.
// Later files override earlier ones; env overrides apply last.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies MITTO_* environment variables on top of file config
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("MITTO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MITTO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if badgerPath := os.Getenv("MITTO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if level := os.Getenv("MITTO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MITTO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if limit := os.Getenv("MITTO_GLOBAL_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			config.Scheduler.GlobalLimit = n
		}
	}
	if limit := os.Getenv("MITTO_SESSION_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			config.Scheduler.SessionLimit = n
		}
	}
	if timeout := os.Getenv("MITTO_JOB_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Scheduler.JobTimeout = timeout
		}
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = apiKey
	}
}

// ApplyFlagOverrides applies command-line flag values on top of the loaded config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks duration and limit fields so failures happen at startup,
// not inside a sweep.
func (c *Config) Validate() error {
	durations := map[string]string{
		"scheduler.job_timeout":            c.Scheduler.JobTimeout,
		"scheduler.stale_threshold":        c.Scheduler.StaleThreshold,
		"scheduler.retention_age":          c.Scheduler.RetentionAge,
		"scheduler.drain_interval":         c.Scheduler.DrainInterval,
		"scheduler.partial_flush_interval": c.Scheduler.PartialFlushInterval,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if c.Scheduler.GlobalLimit <= 0 {
		return fmt.Errorf("scheduler.global_limit must be positive")
	}
	if c.Scheduler.SessionLimit <= 0 {
		return fmt.Errorf("scheduler.session_limit must be positive")
	}
	if c.Scheduler.CategoryLimit <= 0 {
		return fmt.Errorf("scheduler.category_limit must be positive")
	}

	return nil
}

// JobTimeoutDuration returns the parsed hard per-job timeout
func (c *SchedulerConfig) JobTimeoutDuration() time.Duration {
	return parseDurationOr(c.JobTimeout, 10*time.Minute)
}

// StaleThresholdDuration returns the parsed stale-acknowledged threshold
func (c *SchedulerConfig) StaleThresholdDuration() time.Duration {
	return parseDurationOr(c.StaleThreshold, 5*time.Minute)
}

// RetentionAgeDuration returns the parsed terminal-job retention window
func (c *SchedulerConfig) RetentionAgeDuration() time.Duration {
	return parseDurationOr(c.RetentionAge, 30*24*time.Hour)
}

// DrainIntervalDuration returns the parsed safety-net drain tick
func (c *SchedulerConfig) DrainIntervalDuration() time.Duration {
	return parseDurationOr(c.DrainInterval, 5*time.Second)
}

// PartialFlushIntervalDuration returns the parsed partial-output persist interval
func (c *SchedulerConfig) PartialFlushIntervalDuration() time.Duration {
	return parseDurationOr(c.PartialFlushInterval, 2*time.Second)
}

// LimitForCategory returns the effective concurrency limit for a category
func (c *SchedulerConfig) LimitForCategory(category string) int {
	if limit, ok := c.CategoryLimits[category]; ok && limit > 0 {
		return limit
	}
	return c.CategoryLimit
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
