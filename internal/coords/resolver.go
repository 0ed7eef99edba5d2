// File: internal/coords/resolver.go
package coords

import (
	"fmt"
	"math"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Smart resize constants shared with the Qwen2.5-VL vision encoder. The model
// emits coordinates relative to the image after it has been snapped to a
// multiple of patchFactor and scaled into the [minPixels, maxPixels] budget.
const (
	patchFactor    = 28
	DefaultMinToks = 1024
	DefaultMaxToks = 4096
)

// SmartResize computes the resolution a Qwen2.5-VL style encoder actually
// sees for an image of the given size. minTokens and maxTokens bound the
// number of 28x28 patches.
func SmartResize(img schemas.Resolution, minTokens, maxTokens int) schemas.Resolution {
	if img.IsZero() {
		return schemas.Resolution{}
	}
	if minTokens <= 0 {
		minTokens = DefaultMinToks
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxToks
	}
	minPixels := float64(minTokens * patchFactor * patchFactor)
	maxPixels := float64(maxTokens * patchFactor * patchFactor)

	h, w := float64(img.Height), float64(img.Width)
	f := float64(patchFactor)

	hBar := math.Max(f, roundHalfEven(h/f)*f)
	wBar := math.Max(f, roundHalfEven(w/f)*f)

	switch {
	case hBar*wBar > maxPixels:
		beta := math.Sqrt((h * w) / maxPixels)
		hBar = math.Floor(h/beta/f) * f
		wBar = math.Floor(w/beta/f) * f
	case hBar*wBar < minPixels:
		beta := math.Sqrt(minPixels / (h * w))
		hBar = math.Ceil(h*beta/f) * f
		wBar = math.Ceil(w*beta/f) * f
	}
	return schemas.Resolution{Width: int(wBar), Height: int(hBar)}
}

// roundHalfEven matches the banker's rounding the encoder's reference
// implementation uses, so 14-pixel remainders snap the same way.
func roundHalfEven(v float64) float64 { return math.RoundToEven(v) }

// Resolve maps a raw model-space point to a normalized screen coordinate.
// The fraction is clamped to [0,1] to absorb small overshoot. Zero or missing
// model dimensions and non-finite input yield a *schemas.CoordinateError.
func Resolve(raw schemas.Point, meta schemas.ResizeMetadata) (schemas.Coordinate, error) {
	if meta.Model.IsZero() {
		return schemas.Coordinate{}, &schemas.CoordinateError{
			Reason: fmt.Sprintf("missing resize metadata (model space %s)", meta.Model),
		}
	}
	if !finite(raw.X) || !finite(raw.Y) {
		return schemas.Coordinate{}, &schemas.CoordinateError{
			Reason: fmt.Sprintf("non-finite raw coordinate (%v, %v)", raw.X, raw.Y),
		}
	}
	return schemas.Coordinate{
		X:      clamp01(raw.X / float64(meta.Model.Width)),
		Y:      clamp01(raw.Y / float64(meta.Model.Height)),
		Source: meta.Model,
	}, nil
}

// Validate rejects a resolved coordinate that is NaN, outside [0,1], or
// within margin of a screen edge. Edge positions are almost always model
// overshoot rather than a deliberate target.
func Validate(c schemas.Coordinate, margin float64) error {
	if !finite(c.X) || !finite(c.Y) {
		return &schemas.CoordinateError{Reason: "NaN or infinite component"}
	}
	if c.X < 0 || c.X > 1 || c.Y < 0 || c.Y > 1 {
		return &schemas.CoordinateError{Reason: fmt.Sprintf("(%.4f, %.4f) outside [0,1]", c.X, c.Y)}
	}
	if margin > 0 && (c.X < margin || c.X > 1-margin || c.Y < margin || c.Y > 1-margin) {
		return &schemas.CoordinateError{
			Reason: fmt.Sprintf("(%.4f, %.4f) within %.3f of the screen edge", c.X, c.Y, margin),
		}
	}
	return nil
}

// ToPixels converts a normalized coordinate into pixels on a screen of the
// given resolution, mapping 1.0 onto the last addressable pixel.
func ToPixels(c schemas.Coordinate, screen schemas.Resolution) (int, int) {
	px := int(clamp01(c.X) * float64(max(0, screen.Width-1)))
	py := int(clamp01(c.Y) * float64(max(0, screen.Height-1)))
	return px, py
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
