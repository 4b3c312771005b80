// Package pipeline builds the descriptor index from a scene catalogue and answers
// place queries against it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/embedding"
	"github.com/hyperjump/basho/internal/geometry"
	"github.com/hyperjump/basho/internal/imageio"
	"github.com/hyperjump/basho/internal/models"
	"github.com/hyperjump/basho/internal/scenetext"
	"github.com/hyperjump/basho/internal/storage"
	"github.com/hyperjump/basho/internal/vector"
)

const (
	DefaultTopK      = 5
	DefaultBatchSize = 16
)

// ErrNoVerifier is returned by SearchVerified when no geometric verifier is configured.
var ErrNoVerifier = errors.New("no geometric verifier configured")

// ImageLoader opens a catalogue image.
type ImageLoader func(path string) (image.Image, error)

// BuildStats summarises one index build.
type BuildStats struct {
	Entries  int           `json:"entries"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Scenes   int           `json:"scenes"`
	Duration time.Duration `json:"duration_ns"`
}

// Pipeline ties the embedder, the descriptor arena and the metadata store together.
// It does no locking of its own: builds must not overlap with each other or with searches.
type Pipeline struct {
	embedder   embedding.Embedder
	arena      *vector.Arena
	store      *storage.MetadataStore
	verifier   geometry.Verifier
	directory  *scenetext.Directory
	loadImage  ImageLoader
	sceneDir   string
	topK       int
	batchSize  int
	references map[string][]string
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithVerifier enables SearchVerified.
func WithVerifier(v geometry.Verifier) Option {
	return func(p *Pipeline) { p.verifier = v }
}

// WithTopK sets how many nearest descriptors a search inspects.
func WithTopK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithBatchSize sets the default build batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithImageLoader replaces the loader used for catalogue and reference images.
func WithImageLoader(l ImageLoader) Option {
	return func(p *Pipeline) { p.loadImage = l }
}

// WithSceneDirectory sets the catalogue root. Reference images for scenes that were
// not part of the last build are read from <dir>/<scene_id>.
func WithSceneDirectory(dir string) Option {
	return func(p *Pipeline) { p.sceneDir = dir }
}

// WithTextDirectory keeps a full-text directory in step with each build.
func WithTextDirectory(d *scenetext.Directory) Option {
	return func(p *Pipeline) { p.directory = d }
}

// New creates a pipeline over an arena that the caller has sized to the embedder.
func New(embedder embedding.Embedder, arena *vector.Arena, store *storage.MetadataStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder:   embedder,
		arena:      arena,
		store:      store,
		loadImage:  imageio.Load,
		topK:       DefaultTopK,
		batchSize:  DefaultBatchSize,
		references: make(map[string][]string),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of indexed descriptors.
func (p *Pipeline) Size() int {
	return p.arena.Size()
}

// Dimensions returns the descriptor length the index accepts.
func (p *Pipeline) Dimensions() int {
	return p.arena.Dimensions()
}

// IndexType names the backing descriptor index.
func (p *Pipeline) IndexType() string {
	return p.arena.IndexType()
}

// Verifying reports whether SearchVerified is available.
func (p *Pipeline) Verifying() bool {
	return p.verifier != nil
}

// References returns the image paths indexed for sceneID in the last build.
func (p *Pipeline) References(sceneID string) []string {
	return append([]string(nil), p.references[sceneID]...)
}

type embedded struct {
	entry  models.SceneEntry
	vector []float32
}

// BuildIndex discards all stored state and indexes entries in order. Unreadable images
// and failed embeddings are skipped. A descriptor of the wrong length, a storage error or
// a cancelled context aborts the build; the pipeline must then be rebuilt before use.
func (p *Pipeline) BuildIndex(ctx context.Context, entries []models.SceneEntry, batchSize int) (*BuildStats, error) {
	start := time.Now()
	if batchSize <= 0 {
		batchSize = p.batchSize
	}
	stats := &BuildStats{Entries: len(entries)}

	if err := p.store.Flush(ctx); err != nil {
		return stats, err
	}
	if err := p.arena.Reset(ctx); err != nil {
		return stats, err
	}
	if p.directory != nil {
		if err := p.directory.Reset(); err != nil {
			return stats, fmt.Errorf("reset scene directory: %w", err)
		}
	}
	p.references = make(map[string][]string)

	for i := 0; i < len(entries); i += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch := entries[i:min(i+batchSize, len(entries))]
		done, err := p.embedBatch(ctx, batch)
		stats.Skipped += len(batch) - len(done)
		if err != nil {
			return stats, err
		}
		if len(done) == 0 {
			continue
		}
		created, err := p.commit(ctx, done)
		if err != nil {
			return stats, err
		}
		stats.Indexed += len(done)
		stats.Scenes += created
	}

	stats.Duration = time.Since(start)
	p.logger.Info("index built",
		zap.Int("descriptors", p.arena.Size()),
		zap.Int("scenes", stats.Scenes),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// embedBatch loads and embeds one batch. When the batch call fails every image is
// retried alone so one bad image cannot sink its neighbours.
func (p *Pipeline) embedBatch(ctx context.Context, batch []models.SceneEntry) ([]embedded, error) {
	var (
		images []image.Image
		valid  []models.SceneEntry
	)
	for _, e := range batch {
		img, err := p.loadImage(e.ImagePath)
		if err != nil {
			p.logger.Warn("skipping image", zap.String("path", e.ImagePath), zap.Error(err))
			continue
		}
		images = append(images, img)
		valid = append(valid, e)
	}
	if len(images) == 0 {
		return nil, nil
	}

	vecs, err := p.embedder.EmbedBatch(ctx, images)
	if err == nil && len(vecs) != len(images) {
		err = fmt.Errorf("embedder returned %d descriptors for %d images", len(vecs), len(images))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("batch embedding failed, embedding images one by one",
			zap.Int("images", len(images)), zap.Error(err))
		vecs = make([][]float32, len(images))
		for i, img := range images {
			v, err := p.embedder.Embed(ctx, img)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.logger.Warn("skipping image", zap.String("path", valid[i].ImagePath), zap.Error(err))
				continue
			}
			vecs[i] = v
		}
	}

	dims := p.arena.Dimensions()
	out := make([]embedded, 0, len(valid))
	for i, v := range vecs {
		if v == nil {
			continue
		}
		if len(v) != dims {
			return out, fmt.Errorf("%w: %s produced %d values, index expects %d",
				vector.ErrDimensionMismatch, valid[i].ImagePath, len(v), dims)
		}
		out = append(out, embedded{entry: valid[i], vector: v})
	}
	return out, nil
}

// commit appends a batch to the arena and records descriptors and metadata. It returns
// how many scenes were seen for the first time.
func (p *Pipeline) commit(ctx context.Context, batch []embedded) (int, error) {
	vecs := make([][]float32, len(batch))
	ids := make([]string, len(batch))
	for i, b := range batch {
		vecs[i] = b.vector
		ids[i] = b.entry.SceneID
	}
	if err := p.arena.Append(ctx, vecs, ids); err != nil {
		return 0, fmt.Errorf("append descriptors: %w", err)
	}

	created := 0
	for _, b := range batch {
		sceneID := b.entry.SceneID
		n, err := p.store.NextID(ctx, storage.CounterKey(sceneID))
		if err != nil {
			return created, err
		}
		if err := p.store.SetDescriptor(ctx, sceneID, strconv.FormatInt(n, 10), b.vector); err != nil {
			return created, err
		}
		exists, err := p.store.SceneExists(ctx, sceneID)
		if err != nil {
			return created, err
		}
		if !exists {
			meta := b.entry.Metadata()
			if err := p.store.SetSceneMetadata(ctx, sceneID, meta); err != nil {
				return created, err
			}
			created++
			if p.directory != nil {
				if err := p.directory.Add(meta); err != nil {
					p.logger.Warn("scene not added to text directory", zap.String("scene_id", sceneID), zap.Error(err))
				}
			}
		}
		p.references[sceneID] = append(p.references[sceneID], b.entry.ImagePath)
	}
	return created, nil
}

// Search returns the closest scene within maxDistance, or nil when nothing qualifies.
// Candidates with an invalid position or without metadata are passed over.
func (p *Pipeline) Search(ctx context.Context, img image.Image, maxDistance float64) (*models.SearchResult, error) {
	if p.arena.Size() == 0 {
		return nil, nil
	}
	query, err := p.embedder.Embed(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(query) != p.arena.Dimensions() {
		return nil, fmt.Errorf("%w: query has %d values, index expects %d",
			vector.ErrDimensionMismatch, len(query), p.arena.Dimensions())
	}
	matches, err := p.arena.Search(ctx, query, p.topK)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.Position == vector.NoMatch || m.Distance > maxDistance {
			continue
		}
		sceneID, ok := p.arena.SceneAt(m.Position)
		if !ok {
			continue
		}
		meta, found, err := p.store.GetSceneMetadata(ctx, sceneID)
		if errors.Is(err, storage.ErrCorruptMetadata) {
			p.logger.Warn("unreadable metadata for scene", zap.String("scene_id", sceneID), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		if !found {
			p.logger.Warn("no metadata for scene", zap.String("scene_id", sceneID))
			continue
		}
		return &models.SearchResult{Metadata: meta, Distance: m.Distance}, nil
	}
	return nil, nil
}

// SearchVerified runs Search and then requires at least one reference image of the
// winning scene to pass geometric verification against img. A rejected scene means no
// match; the next candidate is not tried.
func (p *Pipeline) SearchVerified(ctx context.Context, img image.Image, maxDistance float64) (*models.SearchResult, error) {
	if p.verifier == nil {
		return nil, ErrNoVerifier
	}
	res, err := p.Search(ctx, img, maxDistance)
	if err != nil || res == nil {
		return nil, err
	}
	sceneID := res.Metadata.SceneID
	for _, path := range p.referencePaths(sceneID) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref, err := p.loadImage(path)
		if err != nil {
			p.logger.Warn("reference image unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		ok, err := p.verifier.Verify(img, ref)
		if err != nil {
			p.logger.Warn("verification failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if ok {
			return res, nil
		}
	}
	p.logger.Debug("candidate rejected by geometric verification",
		zap.String("scene_id", sceneID), zap.Float64("distance", res.Distance))
	return nil, nil
}

func (p *Pipeline) referencePaths(sceneID string) []string {
	if refs := p.references[sceneID]; len(refs) > 0 {
		return refs
	}
	if p.sceneDir == "" {
		return nil
	}
	dir := filepath.Join(p.sceneDir, sceneID)
	files, err := os.ReadDir(dir)
	if err != nil {
		p.logger.Warn("scene directory unreadable", zap.String("path", dir), zap.Error(err))
		return nil
	}
	var paths []string
	for _, f := range files {
		if !f.IsDir() && imageio.IsImageFile(f.Name()) {
			paths = append(paths, filepath.Join(dir, f.Name()))
		}
	}
	return paths
}
