package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/config"
)

// Backend names accepted by New.
const (
	BackendONNX = "onnx"
	BackendHTTP = "http"
	BackendMock = "mock"
)

// New builds the configured embedder and probes it once so Dimensions reports the real
// descriptor length.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var e Embedder
	switch cfg.Backend {
	case BackendONNX, "":
		onnx, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			InputName:  cfg.InputName,
			OutputName: cfg.OutputName,
			ImageSize:  cfg.ImageSize,
			Dimensions: cfg.Dimensions,
			CacheSize:  cfg.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		e = onnx
	case BackendHTTP:
		e = NewHTTPEmbedder(cfg.ServiceURL, 0, cfg.CacheSize)
	case BackendMock:
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (supported: onnx, http, mock)", cfg.Backend)
	}

	dims, err := Probe(ctx, e, cfg.ImageSize)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	if cfg.Dimensions > 0 && dims != cfg.Dimensions {
		logger.Warn("descriptor length differs from configured dimensions",
			zap.Int("model", dims), zap.Int("configured", cfg.Dimensions))
	}
	logger.Info("embedder ready", zap.String("backend", cfg.Backend), zap.Int("dimensions", dims))
	return e, nil
}
