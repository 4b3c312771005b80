//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/basho/internal/imageio"
	"github.com/hyperjump/basho/pkg/utils"
)

// ONNXOptions configures an ONNXEmbedder.
type ONNXOptions struct {
	ModelPath  string
	InputName  string
	OutputName string
	ImageSize  int
	// Dimensions is used only when the model does not declare a fixed output length.
	Dimensions int
	CacheSize  int
}

// ONNXEmbedder runs a place recognition model with ONNX Runtime. It requires CGO and the
// onnxruntime shared library. Runs are serialised on one session.
type ONNXEmbedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	imageSize    int
	dimensions   int
	cache        *EmbeddingCache
	mu           sync.Mutex
}

// NewONNXEmbedder loads the model and allocates a 1x3xSxS input and 1xD output tensor.
// D is read from the model's declared output shape.
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	dims, err := modelOutputDims(opts.ModelPath, opts.OutputName)
	if err != nil {
		return nil, err
	}
	if dims <= 0 {
		dims = opts.Dimensions
	}
	if dims <= 0 {
		return nil, fmt.Errorf("model %s has no fixed output length and no dimensions configured", opts.ModelPath)
	}

	size := int64(opts.ImageSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dims)), make([]float32, dims))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		imageSize:    opts.ImageSize,
		dimensions:   dims,
		cache:        NewEmbeddingCache(opts.CacheSize),
	}, nil
}

func modelOutputDims(modelPath, outputName string) (int, error) {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read model info: %w", err)
	}
	for _, o := range outputs {
		if o.Name != outputName {
			continue
		}
		shape := o.Dimensions
		if len(shape) == 0 {
			return 0, nil
		}
		last := shape[len(shape)-1]
		if last <= 0 {
			return 0, nil
		}
		return int(last), nil
	}
	return 0, fmt.Errorf("model %s has no output named %q", modelPath, outputName)
}

// Embed returns the L2-normalised descriptor for img, using the cache when available.
func (e *ONNXEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := ImageKey(img)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	imageio.Preprocess(img, e.imageSize, e.inputTensor.GetData())
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData()[:e.dimensions])
	utils.NormalizeL2(embedding)
	e.cache.Set(key, embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each image.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, imgs []image.Image) ([][]float32, error) {
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
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
