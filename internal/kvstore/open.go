package kvstore

import (
	"context"
	"fmt"

	"github.com/hyperjump/basho/internal/config"
	"go.uber.org/zap"
)

// Open connects the configured backend. When the backend cannot be reached the
// in-memory store is returned instead and a single warning is logged; callers never
// see the failure. An unknown backend name is a configuration error.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case BackendRedis, "":
		store, err = NewRedisStore(ctx, RedisOptions{
			Addr:        cfg.Addr(),
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		})
	case BackendSQLite:
		store, err = NewSQLiteStore(cfg.SQLitePath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: redis, sqlite, memory)", cfg.Backend)
	}
	if err != nil {
		logger.Warn("key-value store unavailable, using in-memory store",
			zap.String("backend", cfg.Backend),
			zap.Error(err),
		)
		return NewMemoryStore(), nil
	}
	logger.Info("key-value store connected", zap.String("backend", store.Backend()))
	return store, nil
}
