package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/ent0n29/mnemo/internal/config"
)

// ConfigFlags overrides the environment configuration for a single invocation.
type ConfigFlags struct {
	ListenAddr     string
	DatabaseURL    string
	RedisURL       string
	RedisKeyPrefix string
	MCPEnabled     bool
	RedactPII      bool
}

func NewConfigFlags() *ConfigFlags {
	return &ConfigFlags{}
}

func (f *ConfigFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ListenAddr, "listen", "", "The address to serve the API on (overrides APP_BIND_ADDR)")
	flagSet.StringVar(&f.DatabaseURL, "database-url", "", "PostgreSQL DSN; empty keeps memory in process (overrides DATABASE_URL)")
	flagSet.StringVar(&f.RedisURL, "redis-url", "", "Redis URL, e.g. redis://localhost:6379/0 (overrides REDIS_URL)")
	flagSet.StringVar(&f.RedisKeyPrefix, "redis-key-prefix", "", "Prefix for every cache key (overrides REDIS_KEY_PREFIX)")
	flagSet.BoolVar(&f.MCPEnabled, "mcp", true, "Mount the MCP streamable HTTP endpoint at /mcp (overrides MCP_ENABLED)")
	flagSet.BoolVar(&f.RedactPII, "redact-pii", false, "Redact emails, phone and card numbers before persisting (overrides MEMORY_REDACT_PII)")
}

// Load reads the environment and applies only the flags that were set explicitly.
func (f *ConfigFlags) Load(flagSet *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, errors.WithMessage(err, "could not load configuration")
	}
	f.apply(flagSet, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.WithMessage(err, "invalid configuration")
	}
	return cfg, nil
}

func (f *ConfigFlags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	if flagSet.Changed("listen") {
		cfg.BindAddr = f.ListenAddr
	}
	if flagSet.Changed("database-url") {
		cfg.DatabaseURL = f.DatabaseURL
	}
	if flagSet.Changed("redis-url") {
		cfg.RedisURL = f.RedisURL
	}
	if flagSet.Changed("redis-key-prefix") {
		cfg.RedisKeyPrefix = f.RedisKeyPrefix
	}
	if flagSet.Changed("mcp") {
		cfg.MCPEnabled = f.MCPEnabled
	}
	if flagSet.Changed("redact-pii") {
		cfg.RedactPII = f.RedactPII
	}
}
