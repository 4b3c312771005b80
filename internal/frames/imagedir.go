package frames

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/imageio"
)

// ImageDir streams the image files of one directory in lexical order.
type ImageDir struct {
	dir    string
	files  []string
	step   int
	logger *zap.Logger
}

// OpenImageDir lists the images in dir. A missing or image-free directory is ErrOpen.
func OpenImageDir(dir string, step int, opts ...Option) (*ImageDir, error) {
	o := buildOptions(opts)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && imageio.IsImageFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s contains no images", ErrOpen, dir)
	}
	return &ImageDir{dir: dir, files: files, step: normStep(step), logger: o.logger}, nil
}

// Len returns the number of image files, sampled or not.
func (d *ImageDir) Len() int {
	return len(d.files)
}

// Frames decodes every step-th file. Files that fail to decode are logged and skipped.
func (d *ImageDir) Frames(ctx context.Context) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		for i := 0; i < len(d.files); i += d.step {
			if err := ctx.Err(); err != nil {
				yield(Sample{}, err)
				return
			}
			img, err := imageio.Load(d.files[i])
			if err != nil {
				d.logger.Warn("skipping unreadable frame", zap.String("path", d.files[i]), zap.Error(err))
				continue
			}
			if !yield(Sample{Image: img, Index: i}, nil) {
				return
			}
		}
	}
}
