package providers

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relaygate/config"
	"relaygate/internal/cache"
	"relaygate/internal/core"
)

func TestRegistry_SwapIsAtomicPerReader(t *testing.T) {
	r := NewRegistry(testCatalog(), nil, nil)

	inFlight := r.Current()
	next := NewCatalog([]core.Model{{ID: "new-model"}}, nil, nil)
	if !r.Swap(next) {
		t.Fatal("expected swap to happen")
	}

	if _, err := inFlight.LookupModel("gpt-4"); err != nil {
		t.Error("a snapshot taken before the swap must keep its tables")
	}
	if _, err := r.Current().LookupModel("new-model"); err != nil {
		t.Error("new readers should see the swapped catalog")
	}
}

func TestRegistry_SwapSkipsIdenticalCatalog(t *testing.T) {
	r := NewRegistry(testCatalog(), nil, nil)
	if r.Swap(testCatalog()) {
		t.Error("identical catalog should not be swapped")
	}
}

func TestRegistry_OnSwap(t *testing.T) {
	r := NewRegistry(testCatalog(), nil, nil)
	var swapped []int
	r.OnSwap(func(c *Catalog) { swapped = append(swapped, c.ModelCount()) })

	r.Swap(testCatalog())
	r.Swap(NewCatalog([]core.Model{{ID: "a"}, {ID: "b"}}, nil, nil))

	if len(swapped) != 1 || swapped[0] != 2 {
		t.Errorf("expected one callback for the real swap, got %v", swapped)
	}
}

func TestRegistry_ConcurrentReadersAndSwaps(t *testing.T) {
	r := NewRegistry(testCatalog(), nil, nil)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c := r.Current()
				_ = c.ResolveProviders("gpt-4")
				_, _ = c.LookupModel("gpt-4")
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			r.Swap(NewCatalog([]core.Model{{ID: "x"}}, nil, nil))
		} else {
			r.Swap(testCatalog())
		}
	}
	wg.Wait()
}

func TestRegistry_PublishAndLoadFromCache(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))

	publisher := NewRegistry(testCatalog(), store, nil)
	if err := publisher.Publish(ctx); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	t.Setenv("A_API_KEY", "sk-follower")
	follower := NewRegistry(nil, store, &config.Config{})
	count, err := follower.LoadFromCache(ctx)
	if err != nil {
		t.Fatalf("LoadFromCache() error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 models, got %d", count)
	}

	c := follower.Current()
	if c.Fingerprint() != publisher.Current().Fingerprint() {
		t.Error("follower should serve the published tables")
	}
	if key, ok := c.Credential("a"); !ok || key != "sk-follower" {
		t.Errorf("credentials are resolved locally, got %q, %v", key, ok)
	}
	if _, ok := c.Credential("b"); ok {
		t.Error("credentials must never travel through the cache")
	}
}

func TestRegistry_LoadFromEmptyCache(t *testing.T) {
	store := cache.NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
	r := NewRegistry(testCatalog(), store, nil)

	count, err := r.LoadFromCache(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("LoadFromCache() = %d, %v", count, err)
	}
	if r.Current().ModelCount() != 3 {
		t.Error("empty cache must leave the current catalog alone")
	}
}

func TestRegistry_Reload(t *testing.T) {
	store := cache.NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
	r := NewRegistry(testCatalog(), store, nil)

	r.Reload(context.Background(), &config.Config{
		Models:    []config.ModelConfig{{ID: "claude-3", Name: "Claude 3"}},
		Providers: []config.ProviderConfig{{Name: "z", Endpoint: "https://z.test", APIKey: "sk-z", Models: map[string]string{"claude-3": "claude-3-opus"}}},
	})

	if _, err := r.Current().LookupModel("claude-3"); err != nil {
		t.Fatalf("reloaded model missing: %v", err)
	}
	snapshot, err := store.Get(context.Background())
	if err != nil || snapshot == nil {
		t.Fatalf("reload should publish, got %v, %v", snapshot, err)
	}
	if snapshot.Models[0].ID != "claude-3" {
		t.Errorf("published snapshot = %+v", snapshot.Models)
	}
}

func TestRegistry_BackgroundRefresh(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
	r := NewRegistry(testCatalog(), store, nil)

	stop := r.StartBackgroundRefresh(10 * time.Millisecond)
	defer stop()

	published := NewRegistry(NewCatalog([]core.Model{{ID: "fresh"}}, nil, nil), store, nil)
	if err := published.Publish(ctx); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Current().LookupModel("fresh"); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background refresh did not adopt the published catalog")
}

func TestInit_LocalCache(t *testing.T) {
	cfg := &config.Config{
		Cache: config.CacheConfig{Type: "local", Local: config.LocalCache{Path: filepath.Join(t.TempDir(), "c.json")}},
		Models: []config.ModelConfig{{ID: "gpt-4", Name: "GPT-4"}},
		Providers: []config.ProviderConfig{
			{Name: "a", Endpoint: "https://a.test", APIKey: "sk-a", Models: map[string]string{"gpt-4": "gpt-4"}},
		},
	}

	result, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer result.Close()

	if result.Registry.Current().ModelCount() != 1 {
		t.Errorf("expected 1 model")
	}
	snapshot, err := result.Cache.Get(context.Background())
	if err != nil || snapshot == nil {
		t.Fatalf("Init should publish the configured tables: %v, %v", snapshot, err)
	}
	if err := result.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
