package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/basho/internal/config"
)

// IndexType represents the type of descriptor index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses a FAISS IndexFlatL2. Requires the faiss_c library and -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
	// IndexTypeQdrant stores descriptors in a remote Qdrant collection.
	IndexTypeQdrant IndexType = "qdrant"
)

// NewDescriptorIndex creates an index of the configured type with a fixed dimension.
// Supported types: "memory" (default), "faiss", "qdrant".
func NewDescriptorIndex(ctx context.Context, cfg config.IndexConfig, dimensions int) (DescriptorIndex, error) {
	var (
		idx DescriptorIndex
		err error
	)
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		idx, err = NewMemoryIndex(dimensions)
	case IndexTypeFAISS:
		idx, err = NewFAISSIndex(dimensions)
	case IndexTypeQdrant:
		idx, err = NewQdrantIndex(ctx, cfg.QdrantAddr, cfg.QdrantCollection, dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss, qdrant)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
