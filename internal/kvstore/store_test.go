package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hyperjump/basho/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type backendFactory func(t *testing.T) Store

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		BackendMemory: func(t *testing.T) Store { return NewMemoryStore() },
		BackendSQLite: func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
			require.NoError(t, err)
			return s
		},
		BackendRedis: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr(), DialTimeout: time.Second})
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			assert.Equal(t, name, s.Backend())
			require.NoError(t, s.Ping(ctx))

			_, found, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, found)

			ok, err := s.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", []byte("v1")))
			require.NoError(t, s.Set(ctx, "k", []byte("v2")))
			v, found, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("v2"), v)

			ok, err = s.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)

			for want := int64(1); want <= 3; want++ {
				n, err := s.Incr(ctx, "scene:counter")
				require.NoError(t, err)
				assert.Equal(t, want, n)
			}

			_, err = s.Incr(ctx, "k")
			assert.True(t, errors.Is(err, ErrNotInteger), "got %v", err)

			require.NoError(t, s.FlushDB(ctx))
			ok, err = s.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
			n, err := s.Incr(ctx, "scene:counter")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "counters restart after flush")
		})
	}
}

func TestStoreBinaryValues(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			payload := []byte{0x00, 0xff, 0x10, 0x00, 0x80}
			require.NoError(t, s.Set(ctx, "bin", payload))
			got, found, err := s.Get(ctx, "bin")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, payload, got)
		})
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", []byte("abc")))
	v, _, _ := s.Get(ctx, "k")
	v[0] = 'z'
	again, _, _ := s.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
	assert.Equal(t, 1, s.Len())
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "kv.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "scene:a", []byte("meta")))
	_, err = s.Incr(ctx, "a:counter")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, found, err := reopened.Get(ctx, "scene:a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "meta", string(v))
	n, err := reopened.Incr(ctx, "a:counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpen_fallsBackToMemory(t *testing.T) {
	cfg := config.StoreConfig{Backend: BackendRedis, Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond}
	s, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, BackendMemory, s.Backend())
}

func TestOpen_redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.StoreConfig{Backend: BackendRedis, Host: mr.Host(), DialTimeout: time.Second}
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Port = port
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, BackendRedis, s.Backend())
}

func TestOpen_sqlite(t *testing.T) {
	cfg := config.StoreConfig{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "kv.db")}
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, BackendSQLite, s.Backend())
}

func TestOpen_unknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "etcd"}, nil)
	assert.Error(t, err)
}
