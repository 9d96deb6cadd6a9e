// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	ProjectsDir string

	// Provider settings.
	ProviderBinary  string
	ProviderModel   string
	ProviderTimeout time.Duration

	// Sandbox settings.
	SandboxRunner  string // "process" (default) or "docker"
	SandboxTimeout time.Duration
	SandboxLimit   int

	// Session settings.
	MaxSessionsPerConnection int
	SessionIdleTTL           time.Duration

	// Rate limit settings.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	EventLog EventLogConfig
}

// EventLogConfig controls NDJSON progress-event logging.
type EventLogConfig struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("EVENT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/vibe-agents.db"),
		ProjectsDir: getEnv("PROJECTS_DIR", "./projects"),

		ProviderBinary:  getEnv("PROVIDER_BINARY", "claude"),
		ProviderModel:   getEnv("PROVIDER_MODEL", "sonnet"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 5*time.Minute),

		SandboxRunner:  getEnv("SANDBOX_RUNNER", "process"),
		SandboxTimeout: getEnvDuration("SANDBOX_TIMEOUT", 30*time.Second),
		SandboxLimit:   getEnvInt("SANDBOX_LIMIT", 10),

		MaxSessionsPerConnection: getEnvInt("MAX_SESSIONS_PER_CONNECTION", 10),
		SessionIdleTTL:           getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		EventLog: EventLogConfig{
			Enabled:   getEnvBool("EVENT_LOG_ENABLED", true),
			Path:      getEnv("EVENT_LOG_PATH", "./data/logs/events.ndjson"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ProjectsDir == "" {
		return fmt.Errorf("PROJECTS_DIR cannot be empty")
	}
	if c.ProviderBinary == "" {
		return fmt.Errorf("PROVIDER_BINARY cannot be empty")
	}
	if c.SandboxRunner != "process" && c.SandboxRunner != "docker" {
		return fmt.Errorf("SANDBOX_RUNNER must be \"process\" or \"docker\", got %q", c.SandboxRunner)
	}
	if c.SandboxLimit <= 0 {
		return fmt.Errorf("SANDBOX_LIMIT must be > 0")
	}
	if c.MaxSessionsPerConnection <= 0 {
		return fmt.Errorf("MAX_SESSIONS_PER_CONNECTION must be > 0")
	}
	if c.EventLog.Enabled && c.EventLog.Path == "" {
		return fmt.Errorf("EVENT_LOG_PATH cannot be empty when event logging is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
