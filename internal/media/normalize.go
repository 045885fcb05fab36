package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension    = 2560
	DefaultSecondDimension = 1920
	DefaultInitialQuality  = 0.8
	DefaultMaxFileBytes    = 20 * 1024 * 1024

	secondPassQuality = 0.75
	qualityFloor      = 0.5
	firstPassStep     = 0.1
	secondPassStep    = 0.05
)

// NormalizeOptions controls Normalize. Zero values take the defaults above.
type NormalizeOptions struct {
	MaxBytes        int64
	MaxDimension    int
	SecondDimension int
	InitialQuality  float64
	Logger          *slog.Logger
}

func (o NormalizeOptions) withDefaults() NormalizeOptions {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxFileBytes
	}
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.SecondDimension <= 0 {
		o.SecondDimension = DefaultSecondDimension
	}
	if o.InitialQuality <= 0 {
		o.InitialQuality = DefaultInitialQuality
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Normalize decodes an image and re-encodes it as JPEG so that the result is at
// most opts.MaxBytes. It first sweeps quality at MaxDimension, then retries at
// SecondDimension with a finer sweep. It never returns an oversized encoding.
func Normalize(ctx context.Context, r io.Reader, opts NormalizeOptions) ([]byte, error) {
	opts = opts.withDefaults()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validationf("unsupported or corrupt image: %v", err)
	}

	if format == "jpeg" {
		o, err := readOrientation(data)
		if err != nil {
			opts.Logger.Debug("no exif orientation", "error", err)
		}
		img = applyOrientation(img, o)
	}

	surface := resizeToFit(flatten(img), opts.MaxDimension)
	out, err := sweep(ctx, surface, qualitySteps(opts.InitialQuality, firstPassStep, qualityFloor), opts.MaxBytes)
	if err != nil || out != nil {
		return out, err
	}

	b := surface.Bounds()
	opts.Logger.Debug("first pass over budget, shrinking",
		"width", b.Dx(), "height", b.Dy(), "dimension", opts.SecondDimension, "maxBytes", opts.MaxBytes)
	surface = resizeToFit(surface, opts.SecondDimension)
	out, err = sweep(ctx, surface, qualitySteps(secondPassQuality, secondPassStep, qualityFloor), opts.MaxBytes)
	if err != nil || out != nil {
		return out, err
	}
	return nil, apperr.SizeLimitf("cannot compress image under %d bytes", opts.MaxBytes)
}

// sweep returns the first encoding that fits, nil if none does.
func sweep(ctx context.Context, img image.Image, qualities []float64, maxBytes int64) ([]byte, error) {
	var buf bytes.Buffer
	for _, q := range qualities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(q)}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		if int64(buf.Len()) <= maxBytes {
			return bytes.Clone(buf.Bytes()), nil
		}
	}
	return nil, nil
}

// qualitySteps lists start, start-step, ... down to floor inclusive. Every
// value is rounded to two decimals so the sequence is the same on every run.
func qualitySteps(start, step, floor float64) []float64 {
	var out []float64
	for q := round2(start); q >= floor-1e-9; q = round2(q - step) {
		out = append(out, q)
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// jpegQuality maps a 0..1 quality to image/jpeg's 1..100.
func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	return max(1, min(v, 100))
}

// ScaleToMax returns w and h scaled so that neither exceeds maxDim, keeping the
// aspect ratio. Images that already fit are returned unchanged.
func ScaleToMax(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := int(math.Round(float64(h) * float64(maxDim) / float64(w)))
		return maxDim, max(nh, 1)
	}
	nw := int(math.Round(float64(w) * float64(maxDim) / float64(h)))
	return max(nw, 1), maxDim
}

func resizeToFit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := ScaleToMax(b.Dx(), b.Dy(), maxDim)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// flatten draws img over white. JPEG has no alpha channel.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
