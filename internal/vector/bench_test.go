package vector

import (
	"context"
	"testing"
)

func BenchmarkMemoryIndexSearch(b *testing.B) {
	const dims = 2048
	idx, _ := NewMemoryIndex(dims)
	ctx := context.Background()
	vecs := make([][]float32, 1000)
	for i := range vecs {
		vecs[i] = make([]float32, dims)
		vecs[i][i%dims] = 1
	}
	_ = idx.Add(ctx, vecs)
	query := make([]float32, dims)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 5)
	}
}

func BenchmarkSquaredL2(b *testing.B) {
	x := make([]float32, 2048)
	y := make([]float32, 2048)
	for i := range x {
		x[i] = float32(i) / 2048
		y[i] = 1 - x[i]
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SquaredL2(x, y)
	}
}
