package vector

import (
	"context"
	"fmt"
	"sync"
)

// Arena owns a DescriptorIndex together with the position-to-scene table. Vectors and
// their scene ids only enter through Append and only leave through Reset, so
// len(scenes) == index.Size() holds after every call.
type Arena struct {
	index  DescriptorIndex
	scenes []string
	mu     sync.RWMutex
}

// NewArena takes ownership of index and empties it.
func NewArena(ctx context.Context, index DescriptorIndex) (*Arena, error) {
	if err := index.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset index: %w", err)
	}
	return &Arena{index: index}, nil
}

// Append inserts vectors and their scene ids as one operation. If the index rejects the
// batch nothing is recorded; if the index was left partially written both sides are reset
// and the error says so.
func (a *Arena) Append(ctx context.Context, vectors [][]float32, sceneIDs []string) error {
	if len(vectors) != len(sceneIDs) {
		return fmt.Errorf("vectors and scene ids length mismatch: %d != %d", len(vectors), len(sceneIDs))
	}
	if len(vectors) == 0 {
		return nil
	}
	dims := a.index.Dimensions()
	for _, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), dims)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.index.Add(ctx, vectors); err != nil {
		if a.index.Size() != len(a.scenes) {
			resetErr := a.index.Reset(ctx)
			a.scenes = nil
			if resetErr != nil {
				return fmt.Errorf("partial insert (%v) and reset failed: %w", err, resetErr)
			}
			return fmt.Errorf("partial insert, arena reset: %w", err)
		}
		return err
	}
	a.scenes = append(a.scenes, sceneIDs...)
	return nil
}

// Search delegates to the index.
func (a *Arena) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.Search(ctx, query, k)
}

// SceneAt resolves a position to its scene id. ok is false for NoMatch and out-of-range positions.
func (a *Arena) SceneAt(pos int64) (sceneID string, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if pos < 0 || pos >= int64(len(a.scenes)) {
		return "", false
	}
	return a.scenes[pos], true
}

// Reset empties the index and the scene table together.
func (a *Arena) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.index.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}
	a.scenes = nil
	return nil
}

// Size returns the number of stored descriptors.
func (a *Arena) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.scenes)
}

// Dimensions returns the index dimensionality.
func (a *Arena) Dimensions() int {
	return a.index.Dimensions()
}

// IndexType names the backing index.
func (a *Arena) IndexType() string {
	return a.index.Type()
}

// Close closes the backing index.
func (a *Arena) Close() error {
	return a.index.Close()
}
