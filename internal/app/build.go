package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/mnemo/internal/cache"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/httpapi"
	"github.com/ent0n29/mnemo/internal/mcptools"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/policy"
	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
)

// Version is overridden at link time.
var Version = "dev"

const (
	connectBackoffBase = 500 * time.Millisecond
	connectBackoffCap  = 5 * time.Second
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	MCP     *mcptools.Server
	Service *session.Service
	Store   memory.Store
	Cache   *cache.Cache
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release the store pool and the redis client.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	return build(ctx, cfg, nil)
}

func build(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	memoryStore, err := connectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	redisCache := cache.New(cache.Config{
		URL:         cfg.RedisURL,
		KeyPrefix:   cfg.RedisKeyPrefix,
		DialTimeout: cfg.RedisDialTimeout,
		IOTimeout:   cfg.RedisIOTimeout,
	})
	metrics.SetCacheStatus(string(redisCache.Status()),
		string(cache.StatusConnected), string(cache.StatusUnavailable), string(cache.StatusDisabled))

	namespaces := cache.NewNamespaces(redisCache, cache.TTLs{
		Messages: cfg.TTLMessages,
		Search:   cfg.TTLSearch,
		Stats:    cfg.TTLStats,
		Active:   cfg.TTLActive,
		Tool:     cfg.TTLTool,
	})

	service := session.NewService(memoryStore, namespaces, metrics, session.Options{
		DefaultUser: cfg.DefaultUser,
		Source:      cfg.Source,
		Redactor:    policy.Redactor{Enabled: cfg.RedactPII},
	})

	mcpServer := mcptools.NewServer(service, Version)
	mcpHandler := mcpServer.Handler()
	if !cfg.MCPEnabled {
		mcpHandler = nil
	}
	api := httpapi.New(service, metrics, mcpHandler)

	log.WithFields(log.Fields{
		"store": memoryStore.Mode(),
		"cache": redisCache.Status(),
		"mcp":   cfg.MCPEnabled,
	}).Info("memory service built")

	cleanup := func() error {
		var errs []string
		if err := redisCache.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := memoryStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		MCP:     mcpServer,
		Service: service,
		Store:   memoryStore,
		Cache:   redisCache,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}

// connectStore opens the configured store, retrying transient connection
// failures with capped exponential backoff.
func connectStore(ctx context.Context, cfg config.Config) (memory.Store, error) {
	attempts := cfg.DatabaseConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, connectBackoffBase, connectBackoffCap)
			log.WithError(lastErr).WithFields(log.Fields{
				"attempt": attempt + 1,
				"of":      attempts,
				"wait":    wait,
			}).Warn("memory store not reachable, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		store, err := memory.NewStore(ctx, cfg.DatabaseURL)
		if err == nil {
			return store, nil
		}
		lastErr = err
		if !reliability.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// Migrate applies the schema to the configured database.
func Migrate(ctx context.Context, cfg config.Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	store, err := connectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return store.Close()
}
