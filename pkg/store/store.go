// Package store is the key/value abstraction behind the cross-process tick
// lock and the plasma counter. Values are plain strings with an optional TTL.
package store

import (
	"context"
	"fmt"
	"time"
)

// Store is implemented by the memory, sqlite and redis backends.
type Store interface {
	// Get returns the value for key and whether it exists and has not expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key. A ttl of zero never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// CompareAndSwap replaces old with next atomically. An empty old means the
	// key must be absent or expired.
	CompareAndSwap(ctx context.Context, key, old, next string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend named by kind. dsn is the sqlite path or redis URL.
func Open(ctx context.Context, kind, dsn string) (Store, error) {
	switch kind {
	case "memory", "":
		return NewMemory(nil), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "redis":
		return OpenRedis(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown store backend %q", kind)
}
