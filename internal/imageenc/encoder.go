// Package imageenc prepares photos for the embedding service: decode, letterbox onto a
// black square, and re-encode as JPEG.
package imageenc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	DefaultTargetSize  = 440
	DefaultJPEGQuality = 90
)

// Encoder letterboxes images to a TargetSize square JPEG.
type Encoder struct {
	TargetSize  int
	JPEGQuality int
}

// New returns an encoder; non-positive values fall back to the defaults.
func New(targetSize, quality int) *Encoder {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Encoder{TargetSize: targetSize, JPEGQuality: quality}
}

// EncodeFile reads and encodes the image at path.
func (e *Encoder) EncodeFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	out, err := e.Encode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Encode decodes any registered image format from r and returns the letterboxed JPEG.
func (e *Encoder) Encode(r io.Reader) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	dst := Letterbox(src, e.TargetSize)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: e.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Letterbox scales src to fit a size x size square, keeping its aspect ratio, and
// centers it on a black background.
func Letterbox(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return dst
	}
	longest := w
	if h > longest {
		longest = h
	}
	scale := float64(size) / float64(longest)
	sw := int(float64(w) * scale)
	sh := int(float64(h) * scale)
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	left := (size - sw) / 2
	top := (size - sh) / 2
	target := image.Rect(left, top, left+sw, top+sh)
	draw.CatmullRom.Scale(dst, target, src, b, draw.Over, nil)
	return dst
}
