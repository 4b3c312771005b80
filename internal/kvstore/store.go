// Package kvstore defines the key-value contract behind scene metadata and its backends.
package kvstore

import (
	"context"
	"errors"
)

// Backend names.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrNotInteger is returned by Incr when the stored value is not an integer.
var ErrNotInteger = errors.New("kvstore: value is not an integer")

// Store is a minimal key-value store. Implementations must be safe for concurrent reads.
type Store interface {
	// Get returns the value for key; found is false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	// Incr atomically increments the integer at key and returns the new value.
	// An unseen key starts at 0, so the first call returns 1.
	Incr(ctx context.Context, key string) (int64, error)
	// FlushDB removes every key, counters included.
	FlushDB(ctx context.Context) error
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}
