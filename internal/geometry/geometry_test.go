package geometry

import (
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/basho/internal/config"
)

// texture paints random grey rectangles, which gives plenty of sharp corners.
func texture(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	for n := 0; n < w*h/40; n++ {
		x0, y0 := r.IntN(w), r.IntN(h)
		bw, bh := 4+r.IntN(16), 4+r.IntN(16)
		v := uint8(r.IntN(256))
		for y := y0; y < min(y0+bh, h); y++ {
			for x := x0; x < min(x0+bw, w); x++ {
				img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
			}
		}
	}
	return img
}

func crop(img *image.RGBA, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.SetRGBA(x, y, img.RGBAAt(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}

func uniform(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 90
	}
	return img
}

func TestMatcher_SelfMatch(t *testing.T) {
	m := NewMatcher(DefaultOptions())
	img := texture(200, 150, 3)
	res, err := m.Match(img, img)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.KeypointsA, 4)
	assert.GreaterOrEqual(t, res.Matches, res.KeypointsA*9/10)
	assert.True(t, res.Accepted)
	assert.Greater(t, res.InlierRatio(), 0.9)
}

func TestMatcher_ShiftedCopy(t *testing.T) {
	m := NewMatcher(DefaultOptions())
	big := texture(220, 170, 11)
	a := crop(big, image.Rect(0, 0, 200, 150))
	b := crop(big, image.Rect(9, 7, 209, 157))
	ok, err := m.Verify(a, b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatcher_RejectsTexturelessImages(t *testing.T) {
	m := NewMatcher(DefaultOptions())
	ok, err := m.Verify(uniform(120, 120), uniform(120, 120))
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := m.Match(uniform(120, 120), texture(120, 120, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, res.KeypointsA)
	assert.False(t, res.Accepted)
}

func TestMatcher_RejectsUnrelatedImages(t *testing.T) {
	m := NewMatcher(DefaultOptions())
	ok, err := m.Verify(texture(200, 150, 21), texture(200, 150, 99))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatcher_NilImage(t *testing.T) {
	_, err := NewMatcher(DefaultOptions()).Verify(nil, uniform(8, 8))
	assert.Error(t, err)
}

func TestMatcher_Downscales(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSide = 160
	m := NewMatcher(opts)
	img := texture(320, 240, 8)
	ok, err := m.Verify(img, img)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOptionsFromConfig(t *testing.T) {
	o := OptionsFromConfig(config.GeometryConfig{})
	assert.Equal(t, DefaultOptions(), o)

	o = OptionsFromConfig(config.GeometryConfig{MinInlierRatio: 0.5, ReprojThreshold: 3, Seed: 42})
	assert.Equal(t, 0.5, o.MinInlierRatio)
	assert.Equal(t, 3.0, o.ReprojThreshold)
	assert.Equal(t, uint64(42), o.Seed)
	assert.Equal(t, 500, o.MaxKeypoints)
}

func TestDetectFAST_SquareCorners(t *testing.T) {
	g := &grayImage{w: 80, h: 80, pix: make([]uint8, 80*80)}
	for y := 30; y < 50; y++ {
		for x := 30; x < 50; x++ {
			g.pix[y*80+x] = 220
		}
	}
	kps := detectFAST(g, 20, 16, 0)
	require.GreaterOrEqual(t, len(kps), 4)
	corners := []point{{30, 30}, {49, 30}, {30, 49}, {49, 49}}
	for _, kp := range kps {
		near := false
		for _, c := range corners {
			if math.Hypot(float64(kp.x)-c.x, float64(kp.y)-c.y) <= 3 {
				near = true
			}
		}
		assert.True(t, near, "keypoint %d,%d is not at a corner", kp.x, kp.y)
	}
}

func TestHamming(t *testing.T) {
	a := descriptor{0, 0, 0, 0}
	b := descriptor{1, 3, 0, math.MaxUint64}
	assert.Equal(t, 0, hamming(a, a))
	assert.Equal(t, 67, hamming(a, b))
}

func TestMutualMatches(t *testing.T) {
	da := []descriptor{{0xff}, {0xff00}, {0xff0000}}
	db := []descriptor{{0xff0000}, {0xfe}}
	got := mutualMatches(da, db)
	assert.ElementsMatch(t, []match{{a: 0, b: 1}, {a: 2, b: 0}}, got)
	assert.Nil(t, mutualMatches(nil, db))
}

var knownH = homography{1.1, 0.05, 12, -0.03, 0.95, -7, 0.0004, -0.0002, 1}

func TestEstimateHomography(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	var src, dst []point
	for i := 0; i < 20; i++ {
		p := point{x: r.Float64() * 300, y: r.Float64() * 200}
		q, ok := knownH.project(p)
		require.True(t, ok)
		src = append(src, p)
		dst = append(dst, q)
	}
	h, ok := estimateHomography(src, dst)
	require.True(t, ok)
	for i := range h {
		assert.InDelta(t, knownH[i], h[i], 1e-6, "element %d", i)
	}

	h4, ok := estimateHomography(src[:4], dst[:4])
	require.True(t, ok)
	for i := 0; i < 4; i++ {
		p, _ := h4.project(src[i])
		assert.InDelta(t, dst[i].x, p.x, 1e-6)
		assert.InDelta(t, dst[i].y, p.y, 1e-6)
	}

	_, ok = estimateHomography(src[:3], dst[:3])
	assert.False(t, ok)
}

func TestRansacHomography_Outliers(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	var src, dst []point
	for i := 0; i < 30; i++ {
		p := point{x: r.Float64() * 300, y: r.Float64() * 200}
		q, _ := knownH.project(p)
		src = append(src, p)
		dst = append(dst, q)
	}
	for i := 0; i < 10; i++ {
		src = append(src, point{x: r.Float64() * 300, y: r.Float64() * 200})
		dst = append(dst, point{x: r.Float64() * 300, y: r.Float64() * 200})
	}
	_, inliers, ok := ransacHomography(src, dst, 5, 500, rand.New(rand.NewPCG(1, 1)))
	require.True(t, ok)
	assert.GreaterOrEqual(t, inliers, 30)
	assert.Less(t, inliers, 35)
}

func TestCollinear(t *testing.T) {
	assert.True(t, collinear([4]point{{0, 0}, {1, 1}, {2, 2}, {0, 5}}))
	assert.False(t, collinear([4]point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}))
}

func TestBriefPatternDeterministic(t *testing.T) {
	a, b := newBriefPattern(7), newBriefPattern(7)
	assert.Equal(t, *a, *b)
	for _, p := range a {
		for _, v := range p {
			assert.LessOrEqual(t, int(v), patchRadius)
			assert.GreaterOrEqual(t, int(v), -patchRadius)
		}
	}
	assert.NotEqual(t, *a, *newBriefPattern(8))
}
