package embedding

import (
	"context"
	"image"
	"math"

	"github.com/hyperjump/basho/internal/imageio"
	"github.com/hyperjump/basho/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and for running without a model.
// It pools the image into a coarse colour grid, centres each channel around mid-grey and
// normalises the result, so identical images get identical descriptors and similar images
// land close together.
type MockEmbedder struct {
	dimensions int
	grid       int
}

// NewMockEmbedder returns an embedder that produces descriptors of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 48
	}
	grid := int(math.Ceil(math.Sqrt(float64(dimensions) / 3)))
	if grid < 1 {
		grid = 1
	}
	return &MockEmbedder{dimensions: dimensions, grid: grid}
}

// Embed returns the pooled grid descriptor of img.
func (e *MockEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	small := imageio.Scale(img, e.grid, e.grid)
	cells := make([]float32, 0, 3*e.grid*e.grid)
	for y := 0; y < e.grid; y++ {
		for x := 0; x < e.grid; x++ {
			c := small.RGBAAt(x, y)
			cells = append(cells,
				float32(c.R)/255-0.5,
				float32(c.G)/255-0.5,
				float32(c.B)/255-0.5,
			)
		}
	}
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = cells[i%len(cells)]
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each image.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	embeddings := make([][]float32, len(imgs))
	for i, img := range imgs {
		emb, err := e.Embed(ctx, img)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the descriptor dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
