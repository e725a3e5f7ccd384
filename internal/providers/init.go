package providers

import (
	"context"
	"fmt"
	"log/slog"

	"relaygate/config"
	"relaygate/internal/cache"
)

// InitResult holds the initialized catalog infrastructure and cleanup functions.
type InitResult struct {
	Registry *Registry
	Cache    cache.Cache

	stopRefresh func()
}

// Close stops background refresh and releases the cache.
// Safe to call multiple times.
func (r *InitResult) Close() error {
	if r.stopRefresh != nil {
		r.stopRefresh()
		r.stopRefresh = nil
	}
	if r.Cache != nil {
		err := r.Cache.Close()
		r.Cache = nil
		return err
	}
	return nil
}

// Init builds the catalog from cfg and wires it to the configured cache.
//
// A process with its own model table publishes it to the cache. A process
// started without one adopts the table another process published. When
// cache.refresh_interval is set, the registry keeps following the cache.
//
// The caller must call InitResult.Close() during shutdown.
func Init(ctx context.Context, cfg *config.Config) (*InitResult, error) {
	store, err := initCache(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	registry := NewRegistry(CatalogFromConfig(cfg), store, cfg)
	result := &InitResult{Registry: registry, Cache: store}

	if len(cfg.Models) > 0 {
		if err := registry.Publish(ctx); err != nil {
			slog.Warn("failed to publish catalog to cache", "error", err)
		}
	} else {
		count, err := registry.LoadFromCache(ctx)
		if err != nil {
			slog.Warn("failed to load catalog from cache", "error", err)
		} else if count == 0 {
			slog.Warn("no models configured and none published in the cache")
		}
	}

	if interval := cfg.Cache.RefreshInterval; interval > 0 {
		result.stopRefresh = registry.StartBackgroundRefresh(interval)
	}

	current := registry.Current()
	slog.Info("catalog initialized",
		"models", current.ModelCount(),
		"providers", current.ProviderCount(),
		"cache", cfg.Cache.Type,
	)
	return result, nil
}

func initCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Type {
	case "redis":
		store, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			URL: cfg.Cache.Redis.URL,
			Key: cfg.Cache.Redis.Key,
			TTL: cfg.Cache.Redis.TTL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		slog.Info("using local file cache", "path", cfg.Cache.Local.Path)
		return cache.NewLocalCache(cfg.Cache.Local.Path), nil
	}
}
