package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config contains all runtime settings for the memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DatabaseURL             string
	DatabaseConnectAttempts int

	RedisURL         string
	RedisKeyPrefix   string
	RedisDialTimeout time.Duration
	RedisIOTimeout   time.Duration

	TTLMessages time.Duration
	TTLSearch   time.Duration
	TTLStats    time.Duration
	TTLActive   time.Duration
	TTLTool     time.Duration

	DefaultUser string
	Source      string
	RedactPII   bool

	MCPEnabled bool

	LogLevel  string
	LogFormat string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "mnemo"),
		ShutdownTimeout:         15 * time.Second,
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		DatabaseConnectAttempts: 3,
		RedisKeyPrefix:          os.Getenv("REDIS_KEY_PREFIX"),
		RedisDialTimeout:        2 * time.Second,
		RedisIOTimeout:          time.Second,
		TTLMessages:             24 * time.Hour,
		TTLSearch:               30 * time.Minute,
		TTLStats:                time.Hour,
		TTLActive:               30 * time.Minute,
		TTLTool:                 60 * time.Minute,
		DefaultUser:             envOrDefault("MEMORY_DEFAULT_USER", "default_user"),
		Source:                  envOrDefault("MEMORY_SOURCE", "mcp"),
		MCPEnabled:              true,
		LogLevel:                LogDefaults().Level,
		LogFormat:               LogDefaults().Format,
	}

	var err error
	cfg.RedisURL, err = redisURLFromEnv()
	if err != nil {
		return Config{}, err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"REDIS_DIAL_TIMEOUT", &cfg.RedisDialTimeout},
		{"REDIS_IO_TIMEOUT", &cfg.RedisIOTimeout},
		{"CACHE_TTL_MESSAGES", &cfg.TTLMessages},
		{"CACHE_TTL_SEARCH", &cfg.TTLSearch},
		{"CACHE_TTL_STATS", &cfg.TTLStats},
		{"CACHE_TTL_ACTIVE", &cfg.TTLActive},
		{"CACHE_TTL_TOOL", &cfg.TTLTool},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.DatabaseConnectAttempts, err = intFromEnv("DATABASE_CONNECT_ATTEMPTS", cfg.DatabaseConnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.MCPEnabled, err = boolFromEnv("MCP_ENABLED", cfg.MCPEnabled)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that flags may have overridden after Load.
func (c Config) Validate() error {
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"REDIS_DIAL_TIMEOUT", c.RedisDialTimeout},
		{"REDIS_IO_TIMEOUT", c.RedisIOTimeout},
		{"CACHE_TTL_MESSAGES", c.TTLMessages},
		{"CACHE_TTL_SEARCH", c.TTLSearch},
		{"CACHE_TTL_STATS", c.TTLStats},
		{"CACHE_TTL_ACTIVE", c.TTLActive},
		{"CACHE_TTL_TOOL", c.TTLTool},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
	}
	if c.DatabaseConnectAttempts <= 0 {
		return fmt.Errorf("DATABASE_CONNECT_ATTEMPTS must be positive")
	}
	if strings.TrimSpace(c.DefaultUser) == "" {
		return fmt.Errorf("MEMORY_DEFAULT_USER must not be empty")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

type LogSettings struct {
	Level  string
	Format string
}

// LogDefaults reads LOG_LEVEL and LOG_FORMAT without validating them, so the
// CLI can configure logging before the rest of the configuration loads.
func LogDefaults() LogSettings {
	return LogSettings{
		Level:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(envOrDefault("LOG_FORMAT", "text")),
	}
}

// redisURLFromEnv prefers REDIS_URL and otherwise assembles one from the
// REDIS_HOST family. No host means caching is disabled.
func redisURLFromEnv() (string, error) {
	if v := stringsTrimSpace("REDIS_URL"); v != "" {
		return v, nil
	}
	host := stringsTrimSpace("REDIS_HOST")
	if host == "" {
		return "", nil
	}
	port := envOrDefault("REDIS_PORT", "6379")
	db, err := intFromEnv("REDIS_DB", 0)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "redis",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + strconv.Itoa(db),
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		u.User = url.UserPassword("", pw)
	}
	return u.String(), nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
