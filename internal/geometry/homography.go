package geometry

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

type point struct {
	x, y float64
}

// homography is a row-major 3x3 projective transform.
type homography [9]float64

func (h homography) project(p point) (point, bool) {
	w := h[6]*p.x + h[7]*p.y + h[8]
	if math.Abs(w) < 1e-12 {
		return point{}, false
	}
	return point{
		x: (h[0]*p.x + h[1]*p.y + h[2]) / w,
		y: (h[3]*p.x + h[4]*p.y + h[5]) / w,
	}, true
}

// normalize translates pts to their centroid and scales them to a mean distance of
// sqrt(2). It returns the normalised points and the similarity transform that was applied.
func normalize(pts []point) ([]point, *mat.Dense) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.x
		cy += p.y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.x-cx, p.y-cy)
	}
	mean /= n
	s := 1.0
	if mean > 1e-12 {
		s = math.Sqrt2 / mean
	}
	out := make([]point, len(pts))
	for i, p := range pts {
		out[i] = point{x: s * (p.x - cx), y: s * (p.y - cy)}
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return out, t
}

// estimateHomography solves dst ~ H*src for four or more correspondences with the
// normalised direct linear transform.
func estimateHomography(src, dst []point) (homography, bool) {
	n := len(src)
	if n < 4 || n != len(dst) {
		return homography{}, false
	}
	ns, ts := normalize(src)
	nd, td := normalize(dst)

	// At least nine rows so the full SVD always yields a 9x9 V.
	rows := max(2*n, 9)
	a := mat.NewDense(rows, 9, nil)
	for i := 0; i < n; i++ {
		x, y := ns[i].x, ns[i].y
		u, v := nd[i].x, nd[i].y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return homography{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	var tdInv mat.Dense
	if err := tdInv.Inverse(td); err != nil {
		return homography{}, false
	}
	var tmp, hm mat.Dense
	tmp.Mul(&tdInv, hn)
	hm.Mul(&tmp, ts)

	var h homography
	for i := 0; i < 9; i++ {
		h[i] = hm.At(i/3, i%3)
	}
	scale := h[8]
	if math.Abs(scale) < 1e-12 {
		return homography{}, false
	}
	for i := range h {
		h[i] /= scale
	}
	return h, true
}

// collinear reports whether any three of the four points are (nearly) on one line.
func collinear(p [4]point) bool {
	triples := [4][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}
	for _, t := range triples {
		a, b, c := p[t[0]], p[t[1]], p[t[2]]
		area := (b.x-a.x)*(c.y-a.y) - (b.y-a.y)*(c.x-a.x)
		if math.Abs(area) < 1e-6 {
			return true
		}
	}
	return false
}

func countInliers(h homography, src, dst []point, threshold float64, mask []bool) int {
	thr2 := threshold * threshold
	n := 0
	for i := range src {
		p, ok := h.project(src[i])
		in := false
		if ok {
			dx, dy := p.x-dst[i].x, p.y-dst[i].y
			in = dx*dx+dy*dy <= thr2
		}
		if mask != nil {
			mask[i] = in
		}
		if in {
			n++
		}
	}
	return n
}

// ransacHomography fits a homography robustly and returns the best model with its inlier
// count. The winning model is refitted on all of its inliers when that does not lose any.
func ransacHomography(src, dst []point, threshold float64, iterations int, rng *rand.Rand) (homography, int, bool) {
	n := len(src)
	if n < 4 {
		return homography{}, 0, false
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	var best homography
	bestInliers := 0
	for it := 0; it < iterations; it++ {
		for k := 0; k < 4; k++ {
			j := k + rng.IntN(n-k)
			idx[k], idx[j] = idx[j], idx[k]
		}
		var s4, d4 [4]point
		for k := 0; k < 4; k++ {
			s4[k] = src[idx[k]]
			d4[k] = dst[idx[k]]
		}
		if collinear(s4) || collinear(d4) {
			continue
		}
		h, ok := estimateHomography(s4[:], d4[:])
		if !ok {
			continue
		}
		if c := countInliers(h, src, dst, threshold, nil); c > bestInliers {
			best, bestInliers = h, c
			if c == n {
				break
			}
		}
	}
	if bestInliers < 4 {
		return homography{}, bestInliers, false
	}

	mask := make([]bool, n)
	countInliers(best, src, dst, threshold, mask)
	var is, id []point
	for i, in := range mask {
		if in {
			is = append(is, src[i])
			id = append(id, dst[i])
		}
	}
	if refined, ok := estimateHomography(is, id); ok {
		if c := countInliers(refined, src, dst, threshold, nil); c >= bestInliers {
			best, bestInliers = refined, c
		}
	}
	return best, bestInliers, true
}
