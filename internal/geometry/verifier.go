// Package geometry checks whether two images show the same scene by fitting a
// homography to matched local features.
package geometry

import (
	"errors"
	"image"
	"math/rand/v2"

	"github.com/hyperjump/basho/internal/config"
)

// Verifier decides whether two images are geometrically consistent views of one place.
type Verifier interface {
	Verify(a, b image.Image) (bool, error)
}

// Options tune feature extraction and the homography test.
type Options struct {
	MaxSide          int
	MaxKeypoints     int
	FastThreshold    int
	MinKeypoints     int
	MinMatches       int
	ReprojThreshold  float64
	MinInlierRatio   float64
	RANSACIterations int
	Seed             uint64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxSide:          640,
		MaxKeypoints:     500,
		FastThreshold:    20,
		MinKeypoints:     4,
		MinMatches:       4,
		ReprojThreshold:  5.0,
		MinInlierRatio:   0.3,
		RANSACIterations: 1000,
		Seed:             1,
	}
}

// OptionsFromConfig maps the geometry section of the configuration, filling zero fields
// with defaults.
func OptionsFromConfig(cfg config.GeometryConfig) Options {
	o := DefaultOptions()
	if cfg.MaxSide > 0 {
		o.MaxSide = cfg.MaxSide
	}
	if cfg.MaxKeypoints > 0 {
		o.MaxKeypoints = cfg.MaxKeypoints
	}
	if cfg.FastThreshold > 0 {
		o.FastThreshold = cfg.FastThreshold
	}
	if cfg.MinKeypoints > 0 {
		o.MinKeypoints = cfg.MinKeypoints
	}
	if cfg.MinMatches > 0 {
		o.MinMatches = cfg.MinMatches
	}
	if cfg.ReprojThreshold > 0 {
		o.ReprojThreshold = cfg.ReprojThreshold
	}
	if cfg.MinInlierRatio > 0 {
		o.MinInlierRatio = cfg.MinInlierRatio
	}
	if cfg.RANSACIterations > 0 {
		o.RANSACIterations = cfg.RANSACIterations
	}
	if cfg.Seed != 0 {
		o.Seed = cfg.Seed
	}
	return o
}

// Result describes one verification.
type Result struct {
	KeypointsA int
	KeypointsB int
	Matches    int
	Inliers    int
	Accepted   bool
}

// InlierRatio returns Inliers/Matches, or zero without matches.
func (r Result) InlierRatio() float64 {
	if r.Matches == 0 {
		return 0
	}
	return float64(r.Inliers) / float64(r.Matches)
}

// Matcher verifies image pairs with FAST corners, BRIEF descriptors, mutual nearest
// neighbour matching and a RANSAC homography. It is safe for concurrent use.
type Matcher struct {
	opts    Options
	pattern *briefPattern
}

// NewMatcher builds a matcher; the BRIEF test set is derived from opts.Seed.
func NewMatcher(opts Options) *Matcher {
	return &Matcher{opts: opts, pattern: newBriefPattern(opts.Seed)}
}

type features struct {
	points []point
	descs  []descriptor
}

func (m *Matcher) extract(img image.Image) features {
	g := toGray(img, m.opts.MaxSide)
	kps := detectFAST(g, m.opts.FastThreshold, patchRadius+1, m.opts.MaxKeypoints)
	s := smooth(g)
	f := features{
		points: make([]point, len(kps)),
		descs:  make([]descriptor, len(kps)),
	}
	for i, kp := range kps {
		f.points[i] = point{x: float64(kp.x), y: float64(kp.y)}
		f.descs[i] = m.pattern.describe(s, kp)
	}
	return f
}

// Match runs the full test and reports its intermediate counts.
func (m *Matcher) Match(a, b image.Image) (Result, error) {
	if a == nil || b == nil {
		return Result{}, errors.New("geometry: nil image")
	}
	fa := m.extract(a)
	fb := m.extract(b)
	res := Result{KeypointsA: len(fa.points), KeypointsB: len(fb.points)}
	if res.KeypointsA < m.opts.MinKeypoints || res.KeypointsB < m.opts.MinKeypoints {
		return res, nil
	}

	matches := mutualMatches(fa.descs, fb.descs)
	res.Matches = len(matches)
	if res.Matches < m.opts.MinMatches || res.Matches < 4 {
		return res, nil
	}

	src := make([]point, len(matches))
	dst := make([]point, len(matches))
	for i, mt := range matches {
		src[i] = fa.points[mt.a]
		dst[i] = fb.points[mt.b]
	}
	rng := rand.New(rand.NewPCG(m.opts.Seed, uint64(len(matches))))
	_, inliers, ok := ransacHomography(src, dst, m.opts.ReprojThreshold, m.opts.RANSACIterations, rng)
	if !ok {
		return res, nil
	}
	res.Inliers = inliers
	res.Accepted = res.InlierRatio() > m.opts.MinInlierRatio
	return res, nil
}

// Verify reports whether a and b pass the homography test.
func (m *Matcher) Verify(a, b image.Image) (bool, error) {
	res, err := m.Match(a, b)
	if err != nil {
		return false, err
	}
	return res.Accepted, nil
}
