package geometry

import (
	"image"
	"math/bits"
	"math/rand/v2"
	"sort"

	"golang.org/x/image/draw"
)

// grayImage is a tightly packed 8-bit luminance buffer.
type grayImage struct {
	w, h int
	pix  []uint8
}

func (g *grayImage) at(x, y int) int {
	return int(g.pix[y*g.w+x])
}

// toGray converts img to luminance, scaling it down so neither side exceeds maxSide.
func toGray(img image.Image, maxSide int) *grayImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			h = max(1, h*maxSide/w)
			w = maxSide
		} else {
			w = max(1, w*maxSide/h)
			h = maxSide
		}
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return &grayImage{w: w, h: h, pix: dst.Pix}
}

var binomial = [5]int{1, 4, 6, 4, 1}

// smooth applies a separable 5-tap binomial blur with clamped borders.
func smooth(g *grayImage) *grayImage {
	tmp := make([]int, len(g.pix))
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			sum := 0
			for k, wt := range binomial {
				xx := min(max(x+k-2, 0), g.w-1)
				sum += wt * g.at(xx, y)
			}
			tmp[y*g.w+x] = sum
		}
	}
	out := &grayImage{w: g.w, h: g.h, pix: make([]uint8, len(g.pix))}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			sum := 0
			for k, wt := range binomial {
				yy := min(max(y+k-2, 0), g.h-1)
				sum += wt * tmp[yy*g.w+x]
			}
			out.pix[y*g.w+x] = uint8((sum + 128) / 256)
		}
	}
	return out
}

// Bresenham circle of radius 3 used by the FAST segment test, clockwise from the top.
var circle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const arcLength = 9

type keypoint struct {
	x, y  int
	score int
}

// detectFAST finds FAST-9 corners at least border pixels from every edge, keeps local
// maxima in a 3x3 neighbourhood and returns the limit strongest.
func detectFAST(g *grayImage, threshold, border, limit int) []keypoint {
	if g.w <= 2*border || g.h <= 2*border {
		return nil
	}
	scores := make([]int, g.w*g.h)
	for y := border; y < g.h-border; y++ {
		for x := border; x < g.w-border; x++ {
			scores[y*g.w+x] = fastScore(g, x, y, threshold)
		}
	}

	var kps []keypoint
	for y := border; y < g.h-border; y++ {
		for x := border; x < g.w-border; x++ {
			i := y*g.w + x
			s := scores[i]
			if s == 0 || suppressed(scores, g.w, x, y, i) {
				continue
			}
			kps = append(kps, keypoint{x: x, y: y, score: s})
		}
	}

	sort.Slice(kps, func(i, j int) bool {
		if kps[i].score != kps[j].score {
			return kps[i].score > kps[j].score
		}
		if kps[i].y != kps[j].y {
			return kps[i].y < kps[j].y
		}
		return kps[i].x < kps[j].x
	})
	if limit > 0 && len(kps) > limit {
		kps = kps[:limit]
	}
	return kps
}

// suppressed reports whether a neighbour beats the score at i. Equal scores keep the
// later pixel in scan order.
func suppressed(scores []int, w, x, y, i int) bool {
	s := scores[i]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			j := (y+dy)*w + x + dx
			if scores[j] > s || (scores[j] == s && j > i) {
				return true
			}
		}
	}
	return false
}

// fastScore returns zero when (x, y) is not a corner, otherwise the summed contrast of
// the circle pixels beyond the threshold.
func fastScore(g *grayImage, x, y, t int) int {
	p := g.at(x, y)
	var states [16]int8
	var diffs [16]int
	for i, o := range circle {
		d := g.at(x+o[0], y+o[1]) - p
		diffs[i] = d
		switch {
		case d > t:
			states[i] = 1
		case d < -t:
			states[i] = -1
		}
	}
	if !hasArc(&states, 1) && !hasArc(&states, -1) {
		return 0
	}
	score := 0
	for i, d := range diffs {
		if states[i] != 0 {
			if d < 0 {
				d = -d
			}
			score += d - t
		}
	}
	return score
}

func hasArc(states *[16]int8, want int8) bool {
	run := 0
	for i := 0; i < 16+arcLength-1; i++ {
		if states[i%16] == want {
			run++
			if run >= arcLength {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

const (
	briefBits   = 256
	patchRadius = 15
)

type descriptor [briefBits / 64]uint64

// briefPattern holds the sampling pairs (x1, y1, x2, y2) of a BRIEF test set.
type briefPattern [briefBits][4]int8

// newBriefPattern draws an isotropic Gaussian test set around the patch centre with
// sigma equal to two fifths of the patch radius.
func newBriefPattern(seed uint64) *briefPattern {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	sigma := float64(patchRadius) * 2 / 5
	sample := func() int8 {
		for {
			v := r.NormFloat64() * sigma
			iv := int(v + 0.5)
			if v < 0 {
				iv = int(v - 0.5)
			}
			if iv >= -patchRadius && iv <= patchRadius {
				return int8(iv)
			}
		}
	}
	var p briefPattern
	for i := range p {
		p[i] = [4]int8{sample(), sample(), sample(), sample()}
	}
	return &p
}

// describe computes the binary descriptor of kp on a smoothed image. kp must lie at least
// patchRadius pixels inside the image.
func (p *briefPattern) describe(g *grayImage, kp keypoint) descriptor {
	var d descriptor
	for i, t := range p {
		a := g.at(kp.x+int(t[0]), kp.y+int(t[1]))
		b := g.at(kp.x+int(t[2]), kp.y+int(t[3]))
		if a < b {
			d[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return d
}

func hamming(a, b descriptor) int {
	n := 0
	for i := range a {
		n += bits.OnesCount64(a[i] ^ b[i])
	}
	return n
}

type match struct {
	a, b int
}

// mutualMatches pairs descriptors that are each other's nearest neighbour by Hamming
// distance.
func mutualMatches(da, db []descriptor) []match {
	if len(da) == 0 || len(db) == 0 {
		return nil
	}
	bestB := make([]int, len(da))
	for i, a := range da {
		best, bestDist := -1, briefBits+1
		for j, b := range db {
			if d := hamming(a, b); d < bestDist {
				best, bestDist = j, d
			}
		}
		bestB[i] = best
	}
	bestA := make([]int, len(db))
	for j, b := range db {
		best, bestDist := -1, briefBits+1
		for i, a := range da {
			if d := hamming(a, b); d < bestDist {
				best, bestDist = i, d
			}
		}
		bestA[j] = best
	}
	var out []match
	for i, j := range bestB {
		if j >= 0 && bestA[j] == i {
			out = append(out, match{a: i, b: j})
		}
	}
	return out
}
