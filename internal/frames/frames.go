// Package frames turns videos, image directories and in-memory sequences into sampled
// frame streams.
package frames

import (
	"context"
	"errors"
	"image"
	"iter"

	"go.uber.org/zap"
)

// ErrOpen is returned when a source cannot be opened at all.
var ErrOpen = errors.New("cannot open frame source")

// Sample is one sampled frame and its index in the source.
type Sample struct {
	Image image.Image
	Index int
}

// Stream yields sampled frames in source order. Each call to Frames starts from the
// beginning. A non-nil error is always the last value yielded.
type Stream interface {
	Frames(ctx context.Context) iter.Seq2[Sample, error]
}

type options struct {
	logger      *zap.Logger
	ffmpegPath  string
	ffprobePath string
}

// Option configures a stream.
type Option func(*options)

// WithLogger sets the logger for skipped frames and decoder output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFFmpeg overrides the ffmpeg binary.
func WithFFmpeg(path string) Option {
	return func(o *options) {
		if path != "" {
			o.ffmpegPath = path
		}
	}
}

// WithFFprobe overrides the ffprobe binary.
func WithFFprobe(path string) Option {
	return func(o *options) {
		if path != "" {
			o.ffprobePath = path
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func normStep(step int) int {
	if step < 1 {
		return 1
	}
	return step
}

// Sequence is an in-memory stream that keeps every step-th image.
type Sequence struct {
	images []image.Image
	step   int
}

// NewSequence wraps images; step below 1 keeps every image.
func NewSequence(images []image.Image, step int) *Sequence {
	return &Sequence{images: images, step: normStep(step)}
}

// Frames yields images 0, step, 2*step and so on.
func (s *Sequence) Frames(ctx context.Context) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		for i := 0; i < len(s.images); i += s.step {
			if err := ctx.Err(); err != nil {
				yield(Sample{}, err)
				return
			}
			if !yield(Sample{Image: s.images[i], Index: i}, nil) {
				return
			}
		}
	}
}
