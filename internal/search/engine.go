// Package search serves place queries. The Engine owns a retrieval pipeline and guards it
// so searches and video runs may overlap while catalogue rebuilds run alone.
package search

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hyperjump/basho/internal/aggregator"
	"github.com/hyperjump/basho/internal/catalog"
	"github.com/hyperjump/basho/internal/config"
	"github.com/hyperjump/basho/internal/frames"
	"github.com/hyperjump/basho/internal/models"
	"github.com/hyperjump/basho/internal/pipeline"
	"github.com/hyperjump/basho/internal/publish"
	"github.com/hyperjump/basho/internal/scenetext"
	"github.com/hyperjump/basho/internal/storage"
)

// ErrNoTextDirectory is returned by FindScenes when the engine has no scene text directory.
var ErrNoTextDirectory = errors.New("scene text search not enabled")

// SceneHit is one full-text scene lookup result.
type SceneHit struct {
	Metadata models.SceneMetadata `json:"metadata"`
	Score    float64              `json:"score"`
}

// Status describes the loaded index.
type Status struct {
	Descriptors  int                  `json:"descriptors"`
	Scenes       uint64               `json:"scenes"`
	Dimensions   int                  `json:"dimensions"`
	IndexType    string               `json:"index_type"`
	StoreBackend string               `json:"store_backend"`
	Verifying    bool                 `json:"verifying"`
	LastBuild    *pipeline.BuildStats `json:"last_build,omitempty"`
	BuiltAt      *time.Time           `json:"built_at,omitempty"`
	BuildError   string               `json:"build_error,omitempty"`
}

// Engine runs pipeline operations for the server and the CLI.
type Engine struct {
	pipeline  *pipeline.Pipeline
	store     *storage.MetadataStore
	directory *scenetext.Directory
	loader    *catalog.Loader
	publisher publish.Publisher
	jobs      *semaphore.Weighted
	config    *config.Config
	logger    *zap.Logger

	mu        sync.RWMutex
	lastBuild *pipeline.BuildStats
	builtAt   time.Time
	buildErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPublisher sends every new location of a video run to p.
func WithPublisher(p publish.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithTextDirectory enables FindScenes. It should be the directory the pipeline fills.
func WithTextDirectory(d *scenetext.Directory) Option {
	return func(e *Engine) { e.directory = d }
}

// NewEngine creates an engine. cfg supplies the catalogue location, search thresholds, the
// video settings and the worker bound.
func NewEngine(p *pipeline.Pipeline, store *storage.MetadataStore, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		pipeline:  p,
		store:     store,
		publisher: publish.Nop{},
		config:    cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	jobs := cfg.Server.MaxConcurrentJobs
	if jobs <= 0 {
		jobs = 1
	}
	e.jobs = semaphore.NewWeighted(jobs)
	e.loader = catalog.NewLoader(catalog.WithLogger(e.logger))
	return e
}

// Rebuild reloads the catalogue and rebuilds the index. It waits for running searches
// to finish and blocks new ones until it is done.
func (e *Engine) Rebuild(ctx context.Context) (*pipeline.BuildStats, error) {
	entries, err := e.loader.Load(e.config.Catalog.ScenesDir, e.config.Catalog.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stats, err := e.pipeline.BuildIndex(ctx, entries, e.config.Search.BatchSize)
	if err != nil {
		// The index was flushed; the previous build no longer describes it.
		e.lastBuild = nil
		e.builtAt = time.Time{}
		e.buildErr = err
		return stats, fmt.Errorf("build index: %w", err)
	}
	e.lastBuild = stats
	e.builtAt = time.Now()
	e.buildErr = nil
	return stats, nil
}

// Search finds the scene depicted by img. With verify the winning scene must also pass
// geometric verification.
func (e *Engine) Search(ctx context.Context, img image.Image, verify bool) (*models.SearchResult, error) {
	if err := e.jobs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.jobs.Release(1)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.search(ctx, img, verify)
}

func (e *Engine) search(ctx context.Context, img image.Image, verify bool) (*models.SearchResult, error) {
	if verify {
		return e.pipeline.SearchVerified(ctx, img, e.config.Search.MaxDistance)
	}
	return e.pipeline.Search(ctx, img, e.config.Search.MaxDistance)
}

// ProcessVideo samples the video (or directory of frame images) at path and returns one
// record per distinct location, in order of first appearance. Any failure to read the
// source returns an error and no records.
func (e *Engine) ProcessVideo(ctx context.Context, path string) ([]models.LocationRecord, error) {
	if err := e.jobs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.jobs.Release(1)

	stream, err := e.openStream(ctx, path)
	if err != nil {
		return nil, err
	}

	verify := e.config.Video.VerifyOrDefault() && e.pipeline.Verifying()
	agg := aggregator.New(
		aggregator.WithPrecision(e.config.Video.PrecisionOrDefault()),
		aggregator.WithEmitter(e.publisher.Publish),
		aggregator.WithLogger(e.logger),
	)

	e.mu.RLock()
	defer e.mu.RUnlock()
	start := time.Now()
	records, err := agg.Process(ctx, stream, func(ctx context.Context, img image.Image) (*models.SearchResult, error) {
		return e.search(ctx, img, verify)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("video processed",
		zap.String("path", path),
		zap.Int("locations", len(records)),
		zap.Bool("verified", verify),
		zap.Duration("duration", time.Since(start)))
	return records, nil
}

func (e *Engine) openStream(ctx context.Context, path string) (frames.Stream, error) {
	step := e.config.Video.FrameStep
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return frames.OpenImageDir(path, step, frames.WithLogger(e.logger))
	}
	return frames.OpenVideo(ctx, path, step,
		frames.WithLogger(e.logger),
		frames.WithFFmpeg(e.config.Video.FFmpegPath),
		frames.WithFFprobe(e.config.Video.FFprobePath))
}

// Scene returns the stored metadata of one scene.
func (e *Engine) Scene(ctx context.Context, sceneID string) (models.SceneMetadata, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetSceneMetadata(ctx, sceneID)
}

// FindScenes looks scenes up by title and description text.
func (e *Engine) FindScenes(ctx context.Context, query string, limit int) ([]SceneHit, error) {
	if e.directory == nil {
		return nil, ErrNoTextDirectory
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	hits, err := e.directory.Search(query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SceneHit, 0, len(hits))
	for _, h := range hits {
		meta, found, err := e.store.GetSceneMetadata(ctx, h.SceneID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, SceneHit{Metadata: meta, Score: h.Score})
	}
	return out, nil
}

// Status reports index size and the last build.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Descriptors:  e.pipeline.Size(),
		Dimensions:   e.pipeline.Dimensions(),
		IndexType:    e.pipeline.IndexType(),
		StoreBackend: e.store.Backend(),
		Verifying:    e.pipeline.Verifying(),
		LastBuild:    e.lastBuild,
	}
	if e.lastBuild != nil {
		st.Scenes = uint64(e.lastBuild.Scenes)
		t := e.builtAt
		st.BuiltAt = &t
	}
	if e.buildErr != nil {
		st.BuildError = e.buildErr.Error()
	}
	return st
}

// Close releases the publisher.
func (e *Engine) Close() error {
	return e.publisher.Close()
}
