// Package aggregator turns per-frame matches from a video into a list of distinct
// locations in order of first appearance.
package aggregator

import (
	"context"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/frames"
	"github.com/hyperjump/basho/internal/models"
)

// DefaultPrecision is the number of decimals coordinates are rounded to before dedup.
const DefaultPrecision = 6

// Searcher resolves one frame to a match, or nil when nothing qualifies.
type Searcher func(ctx context.Context, img image.Image) (*models.SearchResult, error)

// Emitter receives each new location as soon as it is found.
type Emitter func(ctx context.Context, rec models.LocationRecord) error

// Aggregator deduplicates matches by rounded coordinates.
type Aggregator struct {
	precision int
	emitter   Emitter
	logger    *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPrecision sets the rounding precision; negative values are ignored.
func WithPrecision(p int) Option {
	return func(a *Aggregator) {
		if p >= 0 {
			a.precision = p
		}
	}
}

// WithEmitter sets a callback for each new location. Its errors are logged only.
func WithEmitter(e Emitter) Option {
	return func(a *Aggregator) { a.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New creates an aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{precision: DefaultPrecision, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type coordKey struct {
	lat, lon int64
}

func (a *Aggregator) key(lat, lon float64) coordKey {
	scale := math.Pow(10, float64(a.precision))
	return coordKey{lat: int64(math.Round(lat * scale)), lon: int64(math.Round(lon * scale))}
}

// Process consumes stream and returns one record per distinct location. A frame whose
// search fails is logged and counts as no match. A stream error aborts the run and no
// records are returned.
func (a *Aggregator) Process(ctx context.Context, stream frames.Stream, search Searcher) ([]models.LocationRecord, error) {
	records := []models.LocationRecord{}
	seen := make(map[coordKey]struct{})
	sampled := 0
	for sample, err := range stream.Frames(ctx) {
		if err != nil {
			return nil, err
		}
		sampled++
		res, err := search(ctx, sample.Image)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("frame search failed", zap.Int("frame", sample.Index), zap.Error(err))
			continue
		}
		if res == nil {
			continue
		}
		k := a.key(res.Metadata.Latitude, res.Metadata.Longitude)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rec := models.NewLocationRecord(res, sample.Index)
		records = append(records, rec)
		a.logger.Debug("new location",
			zap.String("scene_id", rec.SceneID), zap.Int("frame", rec.FrameIndex), zap.Float64("distance", rec.Distance))
		if a.emitter != nil {
			if err := a.emitter(ctx, rec); err != nil {
				a.logger.Warn("emit location failed", zap.String("scene_id", rec.SceneID), zap.Error(err))
			}
		}
	}
	a.logger.Info("video processed", zap.Int("frames", sampled), zap.Int("locations", len(records)))
	return records, nil
}
