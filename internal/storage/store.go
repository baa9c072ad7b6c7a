package storage

import (
	"context"
	"time"
)

// Store is the ephemeral state cache: a bounded recent-message buffer per
// room (sliding window, not a source of truth) and atomic counters with
// expiry for rate limiting.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type Store interface {
	// PushRecent appends an encoded message to the room's recent buffer,
	// evicting the oldest entry beyond the bound.
	PushRecent(ctx context.Context, roomID int64, payload []byte) error
	// GetRecent returns buffered messages oldest-first. An empty result
	// means the caller should backfill from durable storage.
	GetRecent(ctx context.Context, roomID int64) ([][]byte, error)
	// InvalidateRecent drops the room's buffer (edits and deletes make the
	// cached window stale).
	InvalidateRecent(ctx context.Context, roomID int64) error
	// IncrWithTTL atomically increments key, setting the expiry window on
	// first increment, and returns the new count.
	IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error)
	Close() error
}
