package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/evanoberholster/imagemeta"
	"golang.org/x/image/draw"
)

// readOrientation returns the EXIF orientation tag (1..8), or 1 when the image
// carries none.
func readOrientation(data []byte) (uint8, error) {
	e, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return 1, fmt.Errorf("failed to read exif: %w", err)
	}
	o := uint8(e.Orientation)
	if o < 1 || o > 8 {
		return 1, nil
	}
	return o, nil
}

// applyOrientation returns img transformed so it displays upright.
func applyOrientation(img image.Image, orientation uint8) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)
	w, h := b.Dx(), b.Dy()

	// Orientations 5 to 8 swap the axes.
	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			var sx, sy int
			switch orientation {
			case 2: // mirror horizontal
				sx, sy = w-1-x, y
			case 3: // rotate 180
				sx, sy = w-1-x, h-1-y
			case 4: // mirror vertical
				sx, sy = x, h-1-y
			case 5: // transpose
				sx, sy = y, x
			case 6: // rotate 90 cw
				sx, sy = y, h-1-x
			case 7: // transverse
				sx, sy = w-1-y, h-1-x
			case 8: // rotate 90 ccw
				sx, sy = w-1-y, x
			}
			dst.SetRGBA(x, y, src.RGBAAt(sx, sy))
		}
	}
	return dst
}
