// Package providers holds the model and provider tables and the registry that
// publishes them to request handlers.
package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/cespare/xxhash/v2"

	"relaygate/internal/cache"
	"relaygate/internal/core"
)

// ErrModelNotFound is returned by LookupModel for ids missing from the model table.
var ErrModelNotFound = errors.New("model not found")

// Catalog is an immutable snapshot of the model table, the provider table and
// the provider credentials. A request reads one Catalog for its whole lifetime.
type Catalog struct {
	fingerprint uint64
	models      map[string]core.Model
	sorted      []core.Model
	providers   []core.Provider
	byModel     map[string][]core.Provider
	credentials map[string]string
}

var _ core.Catalog = (*Catalog)(nil)

// NewCatalog copies the given tables into a new snapshot. Provider order is
// kept: it decides which provider is primary for a model.
func NewCatalog(models []core.Model, providers []core.Provider, credentials map[string]string) *Catalog {
	c := &Catalog{
		models:      make(map[string]core.Model, len(models)),
		sorted:      make([]core.Model, 0, len(models)),
		providers:   make([]core.Provider, 0, len(providers)),
		byModel:     make(map[string][]core.Provider),
		credentials: maps.Clone(credentials),
	}
	if c.credentials == nil {
		c.credentials = map[string]string{}
	}

	for _, m := range models {
		m.Object = "model"
		c.models[m.ID] = m
		c.sorted = append(c.sorted, m)
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i].ID < c.sorted[j].ID })

	for _, p := range providers {
		p.Models = maps.Clone(p.Models)
		c.providers = append(c.providers, p)
	}
	for _, p := range c.providers {
		for id := range p.Models {
			c.byModel[id] = append(c.byModel[id], p)
		}
	}

	c.fingerprint = fingerprint(c.sorted, c.providers)
	return c
}

// fingerprint hashes the tables (not the credentials) so reloads that change
// nothing can be skipped.
func fingerprint(models []core.Model, providers []core.Provider) uint64 {
	// encoding/json sorts map keys, so equal tables hash equally.
	data, err := json.Marshal(struct {
		Models    []core.Model    `json:"models"`
		Providers []core.Provider `json:"providers"`
	}{models, providers})
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

// Fingerprint identifies the table contents.
func (c *Catalog) Fingerprint() uint64 {
	return c.fingerprint
}

// LookupModel returns the model entry for id.
func (c *Catalog) LookupModel(id string) (core.Model, error) {
	m, ok := c.models[id]
	if !ok {
		return core.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// ResolveProviders returns the providers serving modelID in table order.
// The slice is a copy; the provider model maps are shared and must not be modified.
func (c *Catalog) ResolveProviders(modelID string) []core.Provider {
	resolved := c.byModel[modelID]
	if len(resolved) == 0 {
		return nil
	}
	out := make([]core.Provider, len(resolved))
	copy(out, resolved)
	return out
}

// TranslateModelID maps a public id to the provider's id, keeping the public
// id when the provider has no entry.
func (c *Catalog) TranslateModelID(provider core.Provider, modelID string) string {
	return provider.ModelID(modelID)
}

// Credential returns the provider's secret.
func (c *Catalog) Credential(provider string) (string, bool) {
	secret, ok := c.credentials[provider]
	return secret, ok && secret != ""
}

// ListModels returns all models sorted by id.
func (c *Catalog) ListModels() []core.Model {
	out := make([]core.Model, len(c.sorted))
	copy(out, c.sorted)
	return out
}

// ModelCount returns the number of models in the table.
func (c *Catalog) ModelCount() int {
	return len(c.models)
}

// ProviderCount returns the number of providers in the table.
func (c *Catalog) ProviderCount() int {
	return len(c.providers)
}

// ProviderNames returns provider names in table order.
func (c *Catalog) ProviderNames() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name
	}
	return names
}

// Snapshot converts the tables to their cached form.
func (c *Catalog) Snapshot() *cache.Snapshot {
	models := make([]core.Model, len(c.sorted))
	copy(models, c.sorted)
	providers := make([]core.Provider, len(c.providers))
	for i, p := range c.providers {
		p.Models = maps.Clone(p.Models)
		providers[i] = p
	}
	return &cache.Snapshot{
		Version:     cache.SnapshotVersion,
		Fingerprint: c.fingerprint,
		Models:      models,
		Providers:   providers,
	}
}

func (c *Catalog) sameAs(other *Catalog) bool {
	return other != nil && c.fingerprint == other.fingerprint && maps.Equal(c.credentials, other.credentials)
}
