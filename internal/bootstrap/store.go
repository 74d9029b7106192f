package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/codeforge/forge/config"
	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/data"
)

// BuildStore constructs the configured job store backend. For the redis
// backend it also returns the client so the caller owns its shutdown;
// for the memory backend the client is nil.
//
//nolint:ireturn // the backend is selected at runtime from configuration.
func BuildStore(cfg *config.AppConfig, logger *slog.Logger) (core.JobStore, redis.UniversalClient, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("app config is required")
	}

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		if logger != nil {
			logger.Info("using in-memory job store",
				"completed_ttl", cfg.Store.CompletedTTL)
		}
		return data.NewMemoryStore(data.MemoryStoreOptions{}), nil, nil

	case config.StoreBackendRedis:
		client, err := ConnectRedis(cfg.Redis, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store, err := data.NewRedisStore(data.RedisStoreOptions{
			Client:       client,
			CompletedTTL: cfg.Store.CompletedTTL,
		})
		if err != nil {
			if closeErr := client.Close(); closeErr != nil && logger != nil {
				logger.Error("close redis after store build failure", "error", closeErr)
			}
			return nil, nil, fmt.Errorf("build redis store: %w", err)
		}
		if logger != nil {
			logger.Info("using redis job store",
				"addr", cfg.Redis.Addr,
				"completed_ttl", cfg.Store.CompletedTTL)
		}
		return store, client, nil

	default:
		return nil, nil, fmt.Errorf("invalid store backend: %q", cfg.Store.Backend)
	}
}
