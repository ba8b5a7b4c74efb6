package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/vidtrack.yaml"

type Config struct {
	// Addr is the listen address of the local HTTP API
	Addr string `yaml:"addr"`

	// BackendURL is the base URL of the video generation backend
	BackendURL string `yaml:"backend_url"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// PollIntervalSec is how often each active job is checked (default 5)
	PollIntervalSec int `yaml:"poll_interval_sec"`

	// RequestTimeoutSec bounds every backend request (default 30)
	RequestTimeoutSec int `yaml:"request_timeout_sec"`

	// RequestsPerSecond throttles backend calls; 0 disables throttling
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst"`

	// WebhookURL receives an event whenever a job finishes. Empty disables it.
	WebhookURL        string `yaml:"webhook_url"`
	WebhookMaxRetries int    `yaml:"webhook_max_retries"`
	WebhookTimeoutSec int    `yaml:"webhook_timeout_sec"`

	// Owner pins the session owner id instead of generating one
	Owner string `yaml:"owner"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8080",
		BackendURL:        "http://localhost:8000",
		LogLevel:          "info",
		PollIntervalSec:   5,
		RequestTimeoutSec: 30,
		WebhookMaxRetries: 5,
		WebhookTimeoutSec: 10,
	}
}

// Load reads .env files, then the YAML file at path, then environment
// overrides. A missing YAML file leaves the defaults in place.
func Load(path string) (*Config, error) {
	for _, f := range []string{".env", ".env.local"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if path == "" {
		path = getenv("CONFIG_PATH", DefaultPath)
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("no config file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getenv("API_ADDR", c.Addr)
	c.BackendURL = getenv("BACKEND_URL", c.BackendURL)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.PollIntervalSec = getEnvInt("POLL_INTERVAL_SEC", c.PollIntervalSec)
	c.RequestTimeoutSec = getEnvInt("REQUEST_TIMEOUT_SEC", c.RequestTimeoutSec)
	c.RequestsPerSecond = getEnvFloat("REQUESTS_PER_SECOND", c.RequestsPerSecond)
	c.RequestBurst = getEnvInt("REQUEST_BURST", c.RequestBurst)
	c.WebhookURL = getenv("WEBHOOK_URL", c.WebhookURL)
	c.WebhookMaxRetries = getEnvInt("WEBHOOK_MAX_RETRIES", c.WebhookMaxRetries)
	c.WebhookTimeoutSec = getEnvInt("WEBHOOK_TIMEOUT_SEC", c.WebhookTimeoutSec)
	c.Owner = getenv("SESSION_OWNER", c.Owner)
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend_url %q", c.BackendURL)
	}
	if c.PollIntervalSec <= 0 {
		return errors.New("poll_interval_sec must be > 0")
	}
	if c.RequestTimeoutSec <= 0 {
		return errors.New("request_timeout_sec must be > 0")
	}
	if c.WebhookTimeoutSec <= 0 {
		return errors.New("webhook_timeout_sec must be > 0")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be >= 0")
	}
	if c.WebhookMaxRetries < 0 {
		return errors.New("webhook_max_retries must be >= 0")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSec) * time.Second
}

func (c *Config) Level() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
		slog.Warn("ignoring invalid integer env value", "key", key, "value", v)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseFloat(v, 64); err == nil {
			return out
		}
		slog.Warn("ignoring invalid number env value", "key", key, "value", v)
	}
	return def
}
