// Package storage persists scene metadata and descriptors on top of a key-value store.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/basho/internal/kvstore"
	"github.com/hyperjump/basho/internal/models"
)

// ErrCorruptMetadata is returned when a stored metadata value cannot be decoded.
var ErrCorruptMetadata = errors.New("corrupt scene metadata")

// SceneKey is the key holding the JSON metadata of a scene.
func SceneKey(sceneID string) string {
	return "scene:" + sceneID
}

// CounterKey is the key of the per-scene descriptor counter.
func CounterKey(sceneID string) string {
	return "counter:" + sceneID
}

// DescriptorKey is the key holding one stored descriptor vector.
func DescriptorKey(sceneID, descriptorID string) string {
	return "descriptor:" + sceneID + ":" + descriptorID
}

// MetadataStore maps scene ids to metadata and keeps per-scene descriptor counters.
// It depends only on the kvstore contract; which backend is active is invisible here.
type MetadataStore struct {
	kv kvstore.Store
}

// NewMetadataStore wraps kv.
func NewMetadataStore(kv kvstore.Store) *MetadataStore {
	return &MetadataStore{kv: kv}
}

// SceneExists reports whether metadata has been written for sceneID.
func (s *MetadataStore) SceneExists(ctx context.Context, sceneID string) (bool, error) {
	ok, err := s.kv.Exists(ctx, SceneKey(sceneID))
	if err != nil {
		return false, fmt.Errorf("failed to check scene %s: %w", sceneID, err)
	}
	return ok, nil
}

// SetSceneMetadata writes metadata for sceneID, replacing any previous value.
func (s *MetadataStore) SetSceneMetadata(ctx context.Context, sceneID string, meta models.SceneMetadata) error {
	meta.SceneID = sceneID
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := s.kv.Set(ctx, SceneKey(sceneID), data); err != nil {
		return fmt.Errorf("failed to store scene %s: %w", sceneID, err)
	}
	return nil
}

// GetSceneMetadata returns the metadata for sceneID; found is false when none was written.
func (s *MetadataStore) GetSceneMetadata(ctx context.Context, sceneID string) (models.SceneMetadata, bool, error) {
	var meta models.SceneMetadata
	data, found, err := s.kv.Get(ctx, SceneKey(sceneID))
	if err != nil {
		return meta, false, fmt.Errorf("failed to load scene %s: %w", sceneID, err)
	}
	if !found {
		return meta, false, nil
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, false, fmt.Errorf("%w: scene %s: %v", ErrCorruptMetadata, sceneID, err)
	}
	return meta, true, nil
}

// NextID increments counterKey and returns the new value, starting at 1.
func (s *MetadataStore) NextID(ctx context.Context, counterKey string) (int64, error) {
	n, err := s.kv.Incr(ctx, counterKey)
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s: %w", counterKey, err)
	}
	return n, nil
}

// SetDescriptor stores vec as little-endian float32 bytes.
func (s *MetadataStore) SetDescriptor(ctx context.Context, sceneID, descriptorID string, vec []float32) error {
	if err := s.kv.Set(ctx, DescriptorKey(sceneID, descriptorID), EncodeVector(vec)); err != nil {
		return fmt.Errorf("failed to store descriptor %s/%s: %w", sceneID, descriptorID, err)
	}
	return nil
}

// GetDescriptor loads a descriptor written by SetDescriptor.
func (s *MetadataStore) GetDescriptor(ctx context.Context, sceneID, descriptorID string) ([]float32, bool, error) {
	data, found, err := s.kv.Get(ctx, DescriptorKey(sceneID, descriptorID))
	if err != nil || !found {
		return nil, found, err
	}
	vec, err := DecodeVector(data)
	if err != nil {
		return nil, false, fmt.Errorf("descriptor %s/%s: %w", sceneID, descriptorID, err)
	}
	return vec, true, nil
}

// Flush clears every scene, counter, and descriptor.
func (s *MetadataStore) Flush(ctx context.Context) error {
	if err := s.kv.FlushDB(ctx); err != nil {
		return fmt.Errorf("failed to flush metadata store: %w", err)
	}
	return nil
}

// Backend names the active key-value backend.
func (s *MetadataStore) Backend() string {
	return s.kv.Backend()
}

// EncodeVector packs vec as little-endian float32 values.
func EncodeVector(vec []float32) []byte {
	const size = 4
	out := make([]byte, len(vec)*size)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*size:], math.Float32bits(v))
	}
	return out
}

// DecodeVector unpacks bytes produced by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	const size = 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("vector payload of %d bytes is not a multiple of %d", len(b), size)
	}
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size:]))
	}
	return out, nil
}
