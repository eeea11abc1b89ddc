// Package mask renders the binary watermark mask consumed by the inpainting tool.
package mask

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// ErrInvalidGeometry reports a watermark rectangle that does not fit the canvas.
// It is a calibration error of the deployment and must stop the run.
var ErrInvalidGeometry = errors.New("invalid mask geometry")

// Pixel values of the mask.
const (
	Keep   uint8 = 0
	Remove uint8 = 255
)

// Geometry describes the canvas and the watermark anchored to its bottom-right corner.
type Geometry struct {
	Width        int
	Height       int
	MarkWidth    int
	MarkHeight   int
	MarginRight  int
	MarginBottom int
}

// Validate checks that the removal rectangle lies fully inside the canvas.
func (g Geometry) Validate() error {
	switch {
	case g.Width <= 0 || g.Height <= 0:
		return fmt.Errorf("%w: canvas %dx%d", ErrInvalidGeometry, g.Width, g.Height)
	case g.MarkWidth <= 0 || g.MarkHeight <= 0:
		return fmt.Errorf("%w: mark %dx%d", ErrInvalidGeometry, g.MarkWidth, g.MarkHeight)
	case g.MarginRight < 0 || g.MarginBottom < 0:
		return fmt.Errorf("%w: margins %d,%d", ErrInvalidGeometry, g.MarginRight, g.MarginBottom)
	case g.MarkWidth+g.MarginRight > g.Width || g.MarkHeight+g.MarginBottom > g.Height:
		return fmt.Errorf("%w: mark %dx%d with margins %d,%d exceeds canvas %dx%d", ErrInvalidGeometry,
			g.MarkWidth, g.MarkHeight, g.MarginRight, g.MarginBottom, g.Width, g.Height)
	}
	return nil
}

// Rect returns the removal rectangle [W-mw-mr, H-mh-mb]..[W-mr, H-mb].
// The max corner is exclusive, as everywhere in package image.
func (g Geometry) Rect() (image.Rectangle, error) {
	if err := g.Validate(); err != nil {
		return image.Rectangle{}, err
	}
	return image.Rect(
		g.Width-g.MarkWidth-g.MarginRight,
		g.Height-g.MarkHeight-g.MarginBottom,
		g.Width-g.MarginRight,
		g.Height-g.MarginBottom,
	), nil
}

// Render draws the mask: black canvas, white removal rectangle.
func (g Geometry) Render() (*image.Gray, error) {
	rect, err := g.Rect()
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(g.Width, g.Height)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.SetColor(color.White)
	dc.DrawRectangle(float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()))
	dc.Fill()

	// Collapse the RGBA raster into a strictly binary single-channel mask.
	src := dc.Image()
	out := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y
			if v >= 128 {
				out.Pix[out.PixOffset(x, y)] = Remove
			} else {
				out.Pix[out.PixOffset(x, y)] = Keep
			}
		}
	}

	return out, nil
}

// Write renders the mask and saves it as PNG at path.
// The file is written next to its destination and renamed into place.
func (g Geometry) Write(path string) error {
	m, err := g.Render()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create mask directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".mask-*.png")
	if err != nil {
		return fmt.Errorf("failed to create mask file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, m, imaging.PNG); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode mask: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close mask file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save mask: %w", err)
	}

	return nil
}
