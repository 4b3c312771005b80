package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given .env files into the process environment.
// Variables already set in the environment win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields from environment variables. Values that fail to parse are ignored
// so the file or default value stays in effect.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}

	if v, ok := lookup("DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	str("SERVER_HOST", &cfg.Server.Host)
	num("SERVER_PORT", &cfg.Server.Port)

	str("STORE_BACKEND", &cfg.Store.Backend)
	str("REDIS_HOST", &cfg.Store.Host)
	num("REDIS_PORT", &cfg.Store.Port)
	str("REDIS_PASSWORD", &cfg.Store.Password)
	num("REDIS_DB", &cfg.Store.DB)
	str("SQLITE_PATH", &cfg.Store.SQLitePath)

	str("INDEX_TYPE", &cfg.Index.Type)
	str("QDRANT_ADDR", &cfg.Index.QdrantAddr)

	str("EMBEDDING_BACKEND", &cfg.Embedding.Backend)
	str("MODEL_PATH", &cfg.Embedding.ModelPath)
	str("EMBEDDING_URL", &cfg.Embedding.ServiceURL)
	num("IMAGE_SIZE", &cfg.Embedding.ImageSize)
	num("FEATURE_DIM", &cfg.Embedding.Dimensions)

	flt("MAX_DISTANCE", &cfg.Search.MaxDistance)
	num("TOP_K", &cfg.Search.TopK)
	num("BATCH_SIZE", &cfg.Search.BatchSize)

	num("FRAME_STEP", &cfg.Video.FrameStep)
	if v, ok := lookup("DEDUP_PRECISION"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Video.Precision = &n
		}
	}
	if v, ok := lookup("VIDEO_VERIFY"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Video.Verify = &b
		}
	}
	num("FILTER_WINDOW", &cfg.Filter.Window)

	str("SCENES_DIR", &cfg.Catalog.ScenesDir)
	str("METADATA_PATH", &cfg.Catalog.MetadataPath)

	str("NATS_URL", &cfg.Publish.NATSURL)
	str("NATS_SUBJECT", &cfg.Publish.Subject)
}
