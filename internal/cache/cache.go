// Package cache stores published catalog snapshots so that several gateway
// processes can serve from the same model and provider tables.
package cache

import (
	"context"
	"time"

	"relaygate/internal/core"
)

// SnapshotVersion is bumped when the stored layout changes.
const SnapshotVersion = 1

// Snapshot is the cached form of the model and provider tables.
// Credentials are never part of it; every process resolves its own.
type Snapshot struct {
	Version     int             `json:"version"`
	Fingerprint uint64          `json:"fingerprint"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Models      []core.Model    `json:"models"`
	Providers   []core.Provider `json:"providers"`
}

// Cache defines the interface for snapshot storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the stored snapshot, or nil, nil if nothing was stored yet.
	Get(ctx context.Context) (*Snapshot, error)

	// Set replaces the stored snapshot.
	Set(ctx context.Context, snapshot *Snapshot) error

	// Close releases any resources held by the cache.
	Close() error
}
