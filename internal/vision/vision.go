// File: internal/vision/vision.go
package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// DefaultMaxDim bounds the longer side of every image sent to a model.
const DefaultMaxDim = 1280

// Decode reads an encoded screenshot.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// FitWithin returns the size of res scaled down, aspect preserved, so that
// neither side exceeds maxDim. Sizes already within bounds are returned as is.
func FitWithin(res schemas.Resolution, maxDim int) schemas.Resolution {
	w, h := res.Width, res.Height
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return res
	}
	if w >= h {
		return schemas.Resolution{Width: maxDim, Height: max(1, h*maxDim/w)}
	}
	return schemas.Resolution{Width: max(1, w*maxDim/h), Height: maxDim}
}

// ResizeKeepAspect scales img down to fit maxDim. The input is returned
// untouched when it already fits.
func ResizeKeepAspect(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	src := schemas.Resolution{Width: b.Dx(), Height: b.Dy()}
	dst := FitWithin(src, maxDim)
	if dst == src {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, dst.Width, dst.Height))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Over, nil)
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI renders data as an inline base64 URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ResolutionOf reports the pixel size of img.
func ResolutionOf(img image.Image) schemas.Resolution {
	b := img.Bounds()
	return schemas.Resolution{Width: b.Dx(), Height: b.Dy()}
}
