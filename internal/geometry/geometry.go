// Package geometry holds the pure size math used by resize-style
// transformation steps. It has no knowledge of pixels or image formats.
package geometry

import "math"

const (
	ModeStretch    = "stretch"
	ModeAspectFit  = "fit"
	ModeAspectFill = "fill"
)

type Size struct {
	Width  int
	Height int
}

func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Pixels returns the pixel count of the size, zero for empty sizes.
func (s Size) Pixels() int64 {
	if s.Empty() {
		return 0
	}
	return int64(s.Width) * int64(s.Height)
}

// ScaleToFit returns the largest size with src's aspect ratio that fits
// entirely inside bounds.
func ScaleToFit(src, bounds Size) Size {
	if src.Empty() || bounds.Empty() {
		return Size{}
	}
	scale := math.Min(
		float64(bounds.Width)/float64(src.Width),
		float64(bounds.Height)/float64(src.Height),
	)
	return scaled(src, scale)
}

// ScaleToFill returns the smallest size with src's aspect ratio that fully
// covers bounds.
func ScaleToFill(src, bounds Size) Size {
	if src.Empty() || bounds.Empty() {
		return Size{}
	}
	scale := math.Max(
		float64(bounds.Width)/float64(src.Width),
		float64(bounds.Height)/float64(src.Height),
	)
	return scaled(src, scale)
}

// Target resolves the output size for a resize with the given mode. A zero
// width or height in bounds is derived from src's aspect ratio first.
func Target(src, bounds Size, mode string) Size {
	if src.Empty() {
		return Size{}
	}
	bounds = fillMissingAxis(src, bounds)
	if bounds.Empty() {
		return Size{}
	}

	switch mode {
	case ModeAspectFill:
		return ScaleToFill(src, bounds)
	case ModeStretch:
		return bounds
	default:
		return ScaleToFit(src, bounds)
	}
}

func fillMissingAxis(src, bounds Size) Size {
	if bounds.Width > 0 && bounds.Height <= 0 {
		bounds.Height = roundPositive(float64(src.Height) * float64(bounds.Width) / float64(src.Width))
	} else if bounds.Height > 0 && bounds.Width <= 0 {
		bounds.Width = roundPositive(float64(src.Width) * float64(bounds.Height) / float64(src.Height))
	}
	return bounds
}

func scaled(src Size, scale float64) Size {
	if scale <= 0 {
		return Size{}
	}
	return Size{
		Width:  roundPositive(float64(src.Width) * scale),
		Height: roundPositive(float64(src.Height) * scale),
	}
}

func roundPositive(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}
