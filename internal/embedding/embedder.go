// Package embedding turns images into global place descriptors.
package embedding

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"image"

	"github.com/hyperjump/basho/internal/imageio"
)

// Embedder produces one fixed-length descriptor per image.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
	EmbedBatch(ctx context.Context, imgs []image.Image) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Probe embeds a blank size by size image and returns the descriptor length.
func Probe(ctx context.Context, e Embedder, size int) (int, error) {
	vec, err := e.Embed(ctx, imageio.Blank(size))
	if err != nil {
		return 0, fmt.Errorf("probe embedder: %w", err)
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("probe embedder: empty descriptor")
	}
	return len(vec), nil
}

// ImageKey returns a digest of the image bounds and pixels, used as a cache key.
func ImageKey(img image.Image) string {
	h := fnv.New128a()
	b := img.Bounds()
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(b.Min.X))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(b.Min.Y))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(b.Dy()))
	h.Write(hdr[:])

	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := rgba.PixOffset(b.Min.X, y)
			h.Write(rgba.Pix[i : i+4*b.Dx()])
		}
		return hex.EncodeToString(h.Sum(nil))
	}

	var px [8]byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			binary.LittleEndian.PutUint16(px[0:], uint16(r))
			binary.LittleEndian.PutUint16(px[2:], uint16(g))
			binary.LittleEndian.PutUint16(px[4:], uint16(bl))
			binary.LittleEndian.PutUint16(px[6:], uint16(a))
			h.Write(px[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
