// Package frame turns a captured screen image into the edge-column payload sent to the device.
//
// Only the rightmost column of the downsampled grid is transmitted, bottom row
// first. The device maps the payload onto a vertical LED strip.
package frame

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// ErrEmptyImage is returned when the captured image has no pixels.
var ErrEmptyImage = errors.New("empty image")

// DefaultResampler is the interpolator name used when none is configured.
const DefaultResampler = "bilinear"

// ParseResampler maps a config name to an x/image interpolator.
func ParseResampler(name string) (draw.Interpolator, error) {
	switch name {
	case "nearest":
		return draw.NearestNeighbor, nil
	case "approxbilinear":
		return draw.ApproxBiLinear, nil
	case "bilinear", "":
		return draw.BiLinear, nil
	case "catmullrom":
		return draw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unknown resampler %q", name)
	}
}

// Downsample scales img onto a size x size grid.
func Downsample(img image.Image, size int, interp draw.Interpolator) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EdgeColumn flattens the rightmost column of grid into RGB triples, bottom row first.
func EdgeColumn(grid *image.RGBA) []byte {
	b := grid.Bounds()
	x := b.Max.X - 1
	out := make([]byte, 0, b.Dy()*3)
	for y := b.Max.Y - 1; y >= b.Min.Y; y-- {
		off := grid.PixOffset(x, y)
		out = append(out, grid.Pix[off], grid.Pix[off+1], grid.Pix[off+2])
	}
	return out
}

// Encode downsamples img and returns its edge-column payload of size*3 bytes.
func Encode(img image.Image, size int, interp draw.Interpolator) ([]byte, error) {
	if size < 1 {
		return nil, fmt.Errorf("grid size %d must be positive", size)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if interp == nil {
		interp = draw.BiLinear
	}
	return EdgeColumn(Downsample(img, size, interp)), nil
}
