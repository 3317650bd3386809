// Package imaging downscales and compresses screen captures before classification.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Register PNG for Dimensions

	"golang.org/x/image/draw"
)

// Defaults.
const (
	DefaultMaxDimension = 768
	DefaultQuality      = 80
	MinMaxDimension     = 64
)

// ErrEmptyImage is returned for nil or zero-sized input.
var ErrEmptyImage = errors.New("empty image")

// Options control downscaling and encoding.
type Options struct {
	MaxDimension int // Longest side in pixels after scaling
	Quality      int // JPEG quality 1..100
}

// DefaultOptions returns the options used for classification uploads.
func DefaultOptions() Options {
	return Options{MaxDimension: DefaultMaxDimension, Quality: DefaultQuality}
}

func (o Options) normalized() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.MaxDimension < MinMaxDimension {
		o.MaxDimension = MinMaxDimension
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

// Process scales img so its longest side fits MaxDimension and JPEG-encodes it.
// Images already within bounds are encoded at their original size.
func Process(img image.Image, opts Options) ([]byte, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	opts = opts.normalized()

	out := img
	if w, h := FitWithin(b.Dx(), b.Dy(), opts.MaxDimension); w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FitWithin returns w, h scaled down to fit a maxDim box, preserving aspect ratio.
func FitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}

// EstimateTokens approximates the classifier's image token cost for a max dimension.
func EstimateTokens(maxDim int) int {
	switch {
	case maxDim <= 384:
		return 258
	case maxDim <= 768:
		return 516
	default:
		return 774
	}
}

// Dimensions decodes only the header of an encoded image.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
