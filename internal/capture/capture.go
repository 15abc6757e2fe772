// Package capture enumerates the local displays and grabs their pixels.
package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

var (
	// ErrNoDisplays is returned when no active display can be found.
	ErrNoDisplays = errors.New("no active displays")
	// ErrInvalidRegion is returned for a region index outside the enumerated list.
	ErrInvalidRegion = errors.New("invalid monitor number")
)

// Region is a capturable screen area, addressed by its 1-based index.
type Region struct {
	Index  int             `msgpack:"index"`
	Bounds image.Rectangle `msgpack:"bounds"`
}

func (r Region) String() string {
	return fmt.Sprintf("monitor %d (%dx%d+%d+%d)",
		r.Index, r.Bounds.Dx(), r.Bounds.Dy(), r.Bounds.Min.X, r.Bounds.Min.Y)
}

// Source enumerates regions and captures them.
type Source interface {
	Regions() ([]Region, error)
	Capture(r Region) (image.Image, error)
}

// Lookup returns the region with the given 1-based index.
func Lookup(regions []Region, index int) (Region, error) {
	if index < 1 || index > len(regions) {
		return Region{}, fmt.Errorf("%w %d (have %d)", ErrInvalidRegion, index, len(regions))
	}
	return regions[index-1], nil
}

// Screen captures physical displays.
type Screen struct{}

// NewScreen returns a Source backed by the platform screenshot API.
func NewScreen() *Screen {
	return &Screen{}
}

// Regions lists the active displays in the order reported by the platform.
func (s *Screen) Regions() ([]Region, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, ErrNoDisplays
	}

	regions := make([]Region, 0, n)
	for i := 0; i < n; i++ {
		regions = append(regions, Region{
			Index:  i + 1,
			Bounds: screenshot.GetDisplayBounds(i),
		})
	}
	return regions, nil
}

// Capture grabs the pixels inside the region's bounds.
func (s *Screen) Capture(r Region) (image.Image, error) {
	img, err := screenshot.CaptureRect(r.Bounds)
	if err != nil {
		return nil, fmt.Errorf("capturing %s: %w", r, err)
	}
	return img, nil
}
