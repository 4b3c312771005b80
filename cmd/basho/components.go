package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/config"
	"github.com/hyperjump/basho/internal/embedding"
	"github.com/hyperjump/basho/internal/geometry"
	"github.com/hyperjump/basho/internal/kvstore"
	"github.com/hyperjump/basho/internal/pipeline"
	"github.com/hyperjump/basho/internal/publish"
	"github.com/hyperjump/basho/internal/scenetext"
	"github.com/hyperjump/basho/internal/search"
	"github.com/hyperjump/basho/internal/storage"
	"github.com/hyperjump/basho/internal/vector"
)

// Components holds everything a command needs to run the engine.
type Components struct {
	KV        kvstore.Store
	Embedder  embedding.Embedder
	Arena     *vector.Arena
	Directory *scenetext.Directory
	Publisher publish.Publisher
	Engine    *search.Engine
}

func (c *Components) Close() {
	if c.Engine != nil {
		_ = c.Engine.Close()
	}
	if c.Directory != nil {
		_ = c.Directory.Close()
	}
	if c.Arena != nil {
		_ = c.Arena.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KV != nil {
		_ = c.KV.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.KV, err = kvstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	c.Embedder, err = embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	dims := c.Embedder.Dimensions()

	idx, err := vector.NewDescriptorIndex(ctx, cfg.Index, dims)
	if err != nil {
		// Fall back to memory index if configured type fails (e.g., FAISS not compiled in)
		if cfg.Index.Type != string(vector.IndexTypeMemory) && cfg.Index.Type != "" {
			logger.Warn("failed to create descriptor index, falling back to memory",
				zap.String("requested_type", cfg.Index.Type),
				zap.Error(err))
			idx, err = vector.NewMemoryIndex(dims)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize descriptor index: %w", err)
		}
	}
	c.Arena, err = vector.NewArena(ctx, idx)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to initialize descriptor index: %w", err)
	}
	logger.Info("descriptor index initialized",
		zap.String("type", c.Arena.IndexType()),
		zap.Int("dimensions", dims),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	c.Directory, err = scenetext.NewDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scene directory: %w", err)
	}

	store := storage.NewMetadataStore(c.KV)
	p := pipeline.New(c.Embedder, c.Arena, store,
		pipeline.WithLogger(logger),
		pipeline.WithVerifier(geometry.NewMatcher(geometry.OptionsFromConfig(cfg.Geometry))),
		pipeline.WithTopK(cfg.Search.TopK),
		pipeline.WithBatchSize(cfg.Search.BatchSize),
		pipeline.WithSceneDirectory(cfg.Catalog.ScenesDir),
		pipeline.WithTextDirectory(c.Directory),
	)

	c.Publisher = publish.New(cfg.Publish, logger)
	c.Engine = search.NewEngine(p, store, cfg,
		search.WithLogger(logger),
		search.WithPublisher(c.Publisher),
		search.WithTextDirectory(c.Directory),
	)
	return c, nil
}
