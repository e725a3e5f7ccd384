package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relaygate/internal/core"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Version:     SnapshotVersion,
		Fingerprint: 42,
		UpdatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Models: []core.Model{
			{ID: "gpt-4", Name: "GPT-4", OwnedBy: "openai", Premium: true},
		},
		Providers: []core.Provider{
			{Name: "primary", Endpoint: "https://a.test/v1/chat/completions", Models: map[string]string{"gpt-4": "gpt-4-0613"}},
		},
	}
}

func TestLocalCache(t *testing.T) {
	t.Run("GetSetRoundTrip", func(t *testing.T) {
		cache := NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result for empty cache, got %v", result)
		}

		if err := cache.Set(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}

		result, err = cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if result == nil {
			t.Fatal("expected result, got nil")
		}
		if result.Fingerprint != 42 {
			t.Errorf("expected fingerprint 42, got %d", result.Fingerprint)
		}
		if len(result.Models) != 1 || !result.Models[0].Premium {
			t.Errorf("models not restored: %+v", result.Models)
		}
		if got := result.Providers[0].Models["gpt-4"]; got != "gpt-4-0613" {
			t.Errorf("expected translated id gpt-4-0613, got %q", got)
		}
	})

	t.Run("CreateDirectoryIfNeeded", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "nested", "dir", "catalog.json")
		cache := NewLocalCache(cacheFile)

		if err := cache.Set(context.Background(), &Snapshot{Version: SnapshotVersion}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(cacheFile); os.IsNotExist(err) {
			t.Fatal("cache file was not created")
		}
		if _, err := os.Stat(cacheFile + ".tmp"); !os.IsNotExist(err) {
			t.Error("temp file should be renamed away")
		}
	})

	t.Run("EmptyFilePath", func(t *testing.T) {
		cache := NewLocalCache("")
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatal("expected nil result for empty path")
		}
		if err := cache.Set(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "catalog.json")
		if err := os.WriteFile(cacheFile, []byte("not valid json"), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		if _, err := NewLocalCache(cacheFile).Get(context.Background()); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), RedisConfig{URL: "not-a-url://"}); err == nil {
		t.Fatal("expected error for invalid redis URL")
	}
}
