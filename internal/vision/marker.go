package vision

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

var (
	markerFill    = color.RGBA{R: 255, A: 255}
	markerOutline = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// DrawMarker returns a copy of img with a dot at the normalized coordinate c,
// for click previews. The original image is not modified.
func DrawMarker(img image.Image, c schemas.Coordinate, radius int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	if radius <= 0 {
		radius = 10
	}

	cx := int(clamp01(c.X) * float64(max(0, b.Dx()-1)))
	cy := int(clamp01(c.Y) * float64(max(0, b.Dy()-1)))
	inner := (radius - 2) * (radius - 2)
	outer := radius * radius
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if !(image.Point{X: x, Y: y}).In(out.Bounds()) {
				continue
			}
			d := (x-cx)*(x-cx) + (y-cy)*(y-cy)
			switch {
			case d <= inner:
				out.SetRGBA(x, y, markerFill)
			case d <= outer:
				out.SetRGBA(x, y, markerOutline)
			}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
