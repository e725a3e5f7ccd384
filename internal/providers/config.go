package providers

import (
	"log/slog"
	"os"
	"strings"

	"relaygate/config"
	"relaygate/internal/cache"
	"relaygate/internal/core"
)

// CatalogFromConfig builds a snapshot from the configured model and provider tables.
func CatalogFromConfig(cfg *config.Config) *Catalog {
	models := make([]core.Model, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, core.Model{
			ID:      m.ID,
			Name:    m.Name,
			OwnedBy: m.OwnedBy,
			Premium: m.Premium,
		})
	}

	providers := make([]core.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, core.Provider{
			Name:     p.Name,
			Endpoint: p.Endpoint,
			Models:   p.Models,
		})
	}

	return NewCatalog(models, providers, resolveCredentials(cfg, providers))
}

// CatalogFromSnapshot rebuilds a snapshot published by another process,
// resolving credentials locally.
func CatalogFromSnapshot(snapshot *cache.Snapshot, cfg *config.Config) *Catalog {
	return NewCatalog(snapshot.Models, snapshot.Providers, resolveCredentials(cfg, snapshot.Providers))
}

// resolveCredentials looks up each provider's secret: the configured api_key
// first, then <NAME>_API_KEY from the environment. Keys still holding an
// unexpanded ${VAR} placeholder count as missing.
func resolveCredentials(cfg *config.Config, providers []core.Provider) map[string]string {
	configured := make(map[string]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		configured[p.Name] = p.APIKey
	}

	credentials := make(map[string]string, len(providers))
	for _, p := range providers {
		key := configured[p.Name]
		if key == "" {
			key = os.Getenv(config.ProviderKeyEnv(p.Name))
		}
		if key == "" || strings.Contains(key, "${") {
			slog.Warn("provider has no credential configured; it will be skipped during failover",
				"provider", p.Name,
				"env", config.ProviderKeyEnv(p.Name),
			)
			continue
		}
		credentials[p.Name] = key
	}
	return credentials
}
