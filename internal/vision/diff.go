package vision

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

// Frames are compared at this fixed low resolution so the cost of a diff does
// not depend on the screen size and small rendering noise averages out.
const (
	diffWidth  = 160
	diffHeight = 90
)

// MeanAbsDiff returns the mean absolute per-channel difference between a and b
// after downsampling both to 160x90, normalized to [0,1]. Alpha is ignored.
func MeanAbsDiff(a, b image.Image) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.New("cannot diff a nil frame")
	}
	if a.Bounds().Empty() || b.Bounds().Empty() {
		return 0, errors.New("cannot diff an empty frame")
	}
	da, db := downsample(a), downsample(b)

	var sum uint64
	for i := 0; i < len(da.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			x, y := int(da.Pix[i+c]), int(db.Pix[i+c])
			if x > y {
				sum += uint64(x - y)
			} else {
				sum += uint64(y - x)
			}
		}
	}
	n := float64(diffWidth * diffHeight * 3)
	return float64(sum) / n / 255.0, nil
}

func downsample(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, diffWidth, diffHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
