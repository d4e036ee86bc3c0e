package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed keys to prevent duplicate work.
// The syndication pipeline uses it to dedupe outbox deliveries and the
// ingestion service uses it to lock a feed run per (supplier, file) pair.
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been processed
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release removes a key before its TTL expires (used to unlock a feed run)
	Release(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}
