// Package filter smooths a stream of coordinates with a sliding median.
package filter

import "github.com/montanaflynn/stats"

// DefaultWindow is the window used when none is given.
const DefaultWindow = 5

// PositionFilter keeps the last Window latitudes and longitudes and reports their
// medians. It is not safe for concurrent use.
type PositionFilter struct {
	window int
	lat    []float64
	lon    []float64
}

// New creates a filter; window below 1 is treated as 1.
func New(window int) *PositionFilter {
	f := &PositionFilter{}
	f.SetWindow(window)
	return f
}

// Update appends a coordinate, drops the oldest one beyond the window and returns the
// median latitude and longitude of what remains.
func (f *PositionFilter) Update(lat, lon float64) (float64, float64) {
	f.lat = push(f.lat, lat, f.window)
	f.lon = push(f.lon, lon, f.window)
	return median(f.lat), median(f.lon)
}

func push(buf []float64, v float64, window int) []float64 {
	buf = append(buf, v)
	if len(buf) > window {
		buf = append(buf[:0], buf[len(buf)-window:]...)
	}
	return buf
}

func median(buf []float64) float64 {
	// The only error is empty input, which Update never produces.
	m, _ := stats.Median(stats.Float64Data(buf))
	return m
}

// Clear empties both buffers.
func (f *PositionFilter) Clear() {
	f.lat = f.lat[:0]
	f.lon = f.lon[:0]
}

// SetWindow changes the window size and discards the buffers.
func (f *PositionFilter) SetWindow(window int) {
	if window < 1 {
		window = 1
	}
	f.window = window
	f.lat = make([]float64, 0, window)
	f.lon = make([]float64, 0, window)
}

// Window returns the window size.
func (f *PositionFilter) Window() int {
	return f.window
}

// Len returns the number of buffered coordinates.
func (f *PositionFilter) Len() int {
	return len(f.lat)
}
