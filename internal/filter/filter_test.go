package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdate_runningMedian(t *testing.T) {
	f := New(DefaultWindow)
	var lats []float64
	for _, v := range []float64{10, 20, 30, 40, 50} {
		lat, lon := f.Update(v, -v)
		lats = append(lats, lat)
		assert.Equal(t, -lat, lon)
	}
	assert.Equal(t, []float64{10, 15, 20, 25, 30}, lats)
}

func TestUpdate_windowSlides(t *testing.T) {
	f := New(3)
	f.Update(1, 0)
	f.Update(100, 0)
	f.Update(2, 0)
	lat, _ := f.Update(3, 0) // window is now 100, 2, 3
	assert.Equal(t, 3.0, lat)
	assert.Equal(t, 3, f.Len())

	lat, _ = f.Update(4, 0) // 2, 3, 4
	assert.Equal(t, 3.0, lat)
}

func TestUpdate_outlierRejected(t *testing.T) {
	f := New(5)
	var lat float64
	for _, v := range []float64{55.75, 55.76, 10.0, 55.75, 55.77} {
		lat, _ = f.Update(v, 37.6)
	}
	assert.Equal(t, 55.75, lat)
}

func TestClear(t *testing.T) {
	f := New(4)
	f.Update(1, 1)
	f.Update(2, 2)
	f.Clear()
	assert.Equal(t, 0, f.Len())
	lat, lon := f.Update(9, 8)
	assert.Equal(t, 9.0, lat)
	assert.Equal(t, 8.0, lon)
}

func TestSetWindow(t *testing.T) {
	f := New(5)
	f.Update(1, 1)
	f.SetWindow(2)
	assert.Equal(t, 2, f.Window())
	assert.Equal(t, 0, f.Len(), "changing the window discards buffers")

	f.SetWindow(0)
	assert.Equal(t, 1, f.Window())
	f.Update(1, 1)
	lat, _ := f.Update(7, 7)
	assert.Equal(t, 7.0, lat)

	assert.Equal(t, 1, New(-3).Window())
}
