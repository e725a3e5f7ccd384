package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"relaygate/config"
	"relaygate/internal/cache"
)

// Registry publishes the current Catalog. Readers take one snapshot per
// request with Current; writers replace it wholesale with Swap, so no request
// ever observes a half-updated table.
type Registry struct {
	current atomic.Pointer[Catalog]
	cache   cache.Cache
	cfg     atomic.Pointer[config.Config]
	onSwap  atomic.Pointer[func(*Catalog)]
}

// NewRegistry creates a registry serving initial. store may be nil.
func NewRegistry(initial *Catalog, store cache.Cache, cfg *config.Config) *Registry {
	r := &Registry{cache: store}
	if initial == nil {
		initial = NewCatalog(nil, nil, nil)
	}
	r.current.Store(initial)
	if cfg == nil {
		cfg = &config.Config{}
	}
	r.cfg.Store(cfg)
	return r
}

// Current returns the snapshot in effect right now.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// OnSwap registers fn to run after every successful Swap. It replaces any
// previously registered callback.
func (r *Registry) OnSwap(fn func(*Catalog)) {
	r.onSwap.Store(&fn)
}

// Swap installs next unless it is identical to the current snapshot.
// It reports whether a swap happened.
func (r *Registry) Swap(next *Catalog) bool {
	for {
		cur := r.current.Load()
		if next.sameAs(cur) {
			return false
		}
		if r.current.CompareAndSwap(cur, next) {
			slog.Info("catalog swapped",
				"models", next.ModelCount(),
				"providers", next.ProviderCount(),
				"fingerprint", next.Fingerprint(),
			)
			if fn := r.onSwap.Load(); fn != nil && *fn != nil {
				(*fn)(next)
			}
			return true
		}
	}
}

// Reload rebuilds the catalog from a freshly loaded config, swaps it in and
// publishes it to the cache.
func (r *Registry) Reload(ctx context.Context, cfg *config.Config) {
	r.cfg.Store(cfg)
	if !r.Swap(CatalogFromConfig(cfg)) {
		slog.Debug("config reload left the catalog unchanged")
		return
	}
	if err := r.Publish(ctx); err != nil {
		slog.Warn("failed to publish catalog to cache", "error", err)
	}
}

// Publish stores the current tables in the cache.
func (r *Registry) Publish(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	snapshot := r.Current().Snapshot()
	snapshot.UpdatedAt = time.Now().UTC()
	if err := r.cache.Set(ctx, snapshot); err != nil {
		return err
	}
	slog.Debug("published catalog", "models", len(snapshot.Models), "fingerprint", snapshot.Fingerprint)
	return nil
}

// LoadFromCache adopts the snapshot stored in the cache, if there is one.
// It returns the number of models in the adopted snapshot.
func (r *Registry) LoadFromCache(ctx context.Context) (int, error) {
	if r.cache == nil {
		return 0, nil
	}
	snapshot, err := r.cache.Get(ctx)
	if err != nil {
		return 0, err
	}
	if snapshot == nil {
		return 0, nil
	}
	if snapshot.Version != cache.SnapshotVersion {
		return 0, fmt.Errorf("cached catalog has version %d, want %d", snapshot.Version, cache.SnapshotVersion)
	}

	next := CatalogFromSnapshot(snapshot, r.cfg.Load())
	if r.Swap(next) {
		slog.Info("loaded catalog from cache", "models", next.ModelCount(), "cache_updated_at", snapshot.UpdatedAt)
	}
	return next.ModelCount(), nil
}

// StartBackgroundRefresh periodically adopts whatever catalog is published in
// the cache. Returns a function that stops the loop.
func (r *Registry) StartBackgroundRefresh(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 10*time.Second)
				if _, err := r.LoadFromCache(refreshCtx); err != nil {
					slog.Warn("background catalog refresh failed", "error", err)
				}
				refreshCancel()
			}
		}
	}()

	return cancel
}
