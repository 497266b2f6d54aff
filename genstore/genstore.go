// Package genstore keeps a version counter per logical key.
//
// Writers bump a key's generation after changing the data behind it; readers
// compare generations to decide whether cached data is stale. The
// fingerprint package turns a GenStore into a freshness oracle.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore for a single process, RedisGenStore to share them.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes entries not bumped within retention (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources.
	Close(context.Context) error
}
