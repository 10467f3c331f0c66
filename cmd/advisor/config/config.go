// Package config parses the advisor's runtime configuration.
//
// Values come from command-line flags, then environment variables, then
// defaults. A .env file, when present, is loaded into the environment first
// and never overrides variables that are already set.
//
// Feed settings are passed through SOURCE_* variables: SOURCE_URL becomes the
// "url" key of the source config, SOURCE_JOBS_PATH becomes "jobsPath" and so on.
//
// Example usage:
//
//	_ = config.LoadEnvFile(".env")
//	cfg := config.ParseFlags()
//	if err := cfg.Validate(); err != nil {
//	    // exit
//	}
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all advisor configuration.
type Config struct {
	Listen          string
	HealthListen    string
	LogFormat       string
	LogLevel        string
	ShutdownTimeout time.Duration

	Storage       string
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Source          string
	SourceConfig    map[string]string
	RefreshInterval time.Duration
	SessionTTL      time.Duration

	WebhookURL       string
	WebhookPerMinute int

	QueueHistoryCap int
	NotificationCap int
}

// LoadEnvFile loads path into the process environment. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.HealthListen, "health-listen", getEnv("HEALTH_LISTEN", ":9090"), "gRPC health listen address (empty disables)")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second), "Graceful shutdown timeout")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "file"), "Storage backend: file, badger, redis or memory")
	flag.StringVar(&cfg.DataDir, "data-dir", getEnv("DATA_DIR", "./data"), "Directory for file and badger storage")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")

	flag.StringVar(&cfg.Source, "source", getEnv("SOURCE", "static"), "Job feed: http or static")
	flag.DurationVar(&cfg.RefreshInterval, "refresh-interval", getEnvDuration("REFRESH_INTERVAL", 5*time.Minute), "Background refresh interval")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", getEnvDuration("SESSION_TTL", 24*time.Hour), "Stop refreshing users idle for this long (0 keeps them)")

	flag.StringVar(&cfg.WebhookURL, "webhook-url", getEnv("SLACK_WEBHOOK_URL", ""), "Incoming webhook for job notifications (empty disables)")
	flag.IntVar(&cfg.WebhookPerMinute, "webhook-per-minute", getEnvInt("WEBHOOK_PER_MINUTE", 30), "Max webhook posts per minute (0 = unlimited)")

	flag.IntVar(&cfg.QueueHistoryCap, "queue-history-cap", getEnvInt("QUEUE_HISTORY_CAP", 1000), "Completion samples kept per target")
	flag.IntVar(&cfg.NotificationCap, "notification-cap", getEnvInt("NOTIFICATION_CAP", 100), "Notifications kept per user")

	flag.Parse()

	cfg.SourceConfig = parsePrefixedEnv("SOURCE_")

	return cfg
}

// Validate rejects settings the advisor cannot run with.
func (c *Config) Validate() error {
	switch c.Storage {
	case "memory":
	case "file", "badger":
		if c.DataDir == "" {
			return fmt.Errorf("storage %q requires a data dir", c.Storage)
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("storage redis requires a redis address")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("redis database number must be >= 0, got %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("invalid storage %q (must be file, badger, redis or memory)", c.Storage)
	}

	switch c.Source {
	case "static":
	case "http":
		if c.SourceConfig["url"] == "" {
			return errors.New("source http requires SOURCE_URL")
		}
	default:
		return fmt.Errorf("invalid source %q (must be http or static)", c.Source)
	}

	if c.Listen == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be > 0, got %v", c.RefreshInterval)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session ttl cannot be negative, got %v", c.SessionTTL)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be > 0, got %v", c.ShutdownTimeout)
	}
	if c.WebhookPerMinute < 0 {
		return fmt.Errorf("webhook per minute cannot be negative, got %d", c.WebhookPerMinute)
	}
	if c.QueueHistoryCap < 1 {
		return fmt.Errorf("queue history cap must be >= 1, got %d", c.QueueHistoryCap)
	}
	if c.NotificationCap < 1 {
		return fmt.Errorf("notification cap must be >= 1, got %d", c.NotificationCap)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}

	return nil
}

// parsePrefixedEnv collects prefix_* environment variables into a map keyed
// by the lowerCamelCase remainder (SOURCE_JOBS_PATH -> jobsPath).
func parsePrefixedEnv(prefix string) map[string]string {
	config := make(map[string]string)
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
			continue
		}
		config[toLowerCamelCase(key[len(prefix):])] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]) + p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
