// Package imageio decodes scene and query images and prepares them for the descriptor model.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// ImageNet channel statistics used by the descriptor model.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// IsImageFile reports whether path has a supported image extension (case-insensitive).
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Load opens and decodes a JPEG or PNG file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads one image from r.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ResizeShorter scales img so its shorter side equals size, keeping the aspect ratio.
func ResizeShorter(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var nw, nh int
	if w <= h {
		nw = size
		nh = int(float64(h)*float64(size)/float64(w) + 0.5)
	} else {
		nh = size
		nw = int(float64(w)*float64(size)/float64(h) + 0.5)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Scale resizes img to exactly w by h.
func Scale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// CenterCrop cuts a size by size square from the middle of img. Images smaller than size are
// scaled up first.
func CenterCrop(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() < size || b.Dy() < size {
		img = ResizeShorter(img, size)
		b = img.Bounds()
	}
	x0 := b.Min.X + (b.Dx()-size)/2
	y0 := b.Min.Y + (b.Dy()-size)/2
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(x0, y0), draw.Src)
	return dst
}

// Preprocess resizes the shorter side to size, center crops a square, and writes the pixels
// as a normalized 3×size×size CHW tensor (ImageNet mean and std) into dst, which must hold
// 3*size*size values. A nil dst allocates.
func Preprocess(img image.Image, size int, dst []float32) []float32 {
	crop := CenterCrop(ResizeShorter(img, size), size)
	plane := size * size
	if dst == nil {
		dst = make([]float32, 3*plane)
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := crop.PixOffset(x, y)
			p := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(crop.Pix[i+c]) / 255
				dst[c*plane+p] = (v - ImageNetMean[c]) / ImageNetStd[c]
			}
		}
	}
	return dst
}

// Blank returns a black size by size image, used to probe model output dimensions.
func Blank(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}
