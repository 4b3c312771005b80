package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hyperjump/basho/internal/imageio"
	"github.com/hyperjump/basho/pkg/utils"
)

// EmbeddingResponse is the body returned by the descriptor service.
type EmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

// HTTPEmbedder sends JPEG-encoded images to a remote descriptor service.
type HTTPEmbedder struct {
	serviceURL string
	client     *http.Client
	cache      *EmbeddingCache
	dimensions int
	mu         sync.RWMutex
}

// NewHTTPEmbedder creates a client for serviceURL. When dimensions is zero it is taken
// from the first response.
func NewHTTPEmbedder(serviceURL string, dimensions, cacheSize int) *HTTPEmbedder {
	if serviceURL == "" {
		serviceURL = "http://localhost:5001"
	}
	return &HTTPEmbedder{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:      NewEmbeddingCache(cacheSize),
		dimensions: dimensions,
	}
}

// HealthCheck verifies the descriptor service is running.
func (h *HTTPEmbedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Embed posts img to <service>/embed and returns the L2-normalised descriptor.
func (h *HTTPEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	key := ImageKey(img)
	if cached, ok := h.cache.Get(key); ok {
		return cached, nil
	}

	data, err := imageio.EncodeJPEG(img, 95)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.serviceURL+"/embed", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var embResp EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding")
	}
	if embResp.Dimension != 0 && embResp.Dimension != len(embResp.Embedding) {
		return nil, fmt.Errorf("embedding length %d does not match reported dimension %d", len(embResp.Embedding), embResp.Dimension)
	}

	h.mu.Lock()
	if h.dimensions == 0 {
		h.dimensions = len(embResp.Embedding)
	}
	dims := h.dimensions
	h.mu.Unlock()
	if len(embResp.Embedding) != dims {
		return nil, fmt.Errorf("embedding length %d, expected %d", len(embResp.Embedding), dims)
	}

	embedding := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		embedding[i] = float32(v)
	}
	utils.NormalizeL2(embedding)
	h.cache.Set(key, embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each image.
func (h *HTTPEmbedder) EmbedBatch(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	embeddings := make([][]float32, len(imgs))
	for i, img := range imgs {
		emb, err := h.Embed(ctx, img)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the descriptor length, or zero before the first response when unset.
func (h *HTTPEmbedder) Dimensions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dimensions
}

// Close releases idle connections.
func (h *HTTPEmbedder) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
