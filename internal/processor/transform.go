package processor

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ScaledSize returns the dimensions a srcW x srcH image must be resampled to
// so that it covers dstW x dstH on both axes while keeping its aspect ratio.
// The constrained axis matches the target exactly, the other one overflows.
func ScaledSize(srcW, srcH, dstW, dstH int) (int, int) {
	srcRatio := float64(srcW) / float64(srcH)
	dstRatio := float64(dstW) / float64(dstH)

	if srcRatio > dstRatio {
		// Source is relatively wider: fix the height.
		w := int(math.Round(float64(dstH) * srcRatio))
		return max(w, dstW), dstH
	}

	// Source is relatively taller or equal: fix the width.
	h := int(math.Round(float64(dstW) / srcRatio))
	return dstW, max(h, dstH)
}

// FillCrop scales img to cover width x height and cuts the centered window.
// The result is always exactly width x height, without padding or distortion.
func FillCrop(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	sw, sh := ScaledSize(b.Dx(), b.Dy(), width, height)

	scaled := imaging.Resize(img, sw, sh, imaging.Lanczos)

	left := (sw - width) / 2
	top := (sh - height) / 2

	return imaging.Crop(scaled, image.Rect(left, top, left+width, top+height))
}

// Flatten composites img onto an opaque white canvas of the same size.
// JPEG has no alpha channel, so transparent pixels must become white first.
func Flatten(img image.Image) *image.NRGBA {
	if isOpaque(img) {
		return imaging.Clone(img)
	}

	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)

	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func isOpaque(img image.Image) bool {
	o, ok := img.(interface{ Opaque() bool })
	return ok && o.Opaque()
}
