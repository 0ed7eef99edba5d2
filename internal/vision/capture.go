package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Capturer turns raw sandbox screenshots into model-ready frames. It fills
// Meta.Screen and Meta.Image; the model space depends on the dialect and is
// left for the caller.
type Capturer struct {
	source schemas.Screenshotter
	maxDim int
	now    func() time.Time
}

var _ schemas.Capturer = (*Capturer)(nil)

// NewCapturer wraps source. A non-positive maxDim selects DefaultMaxDim.
func NewCapturer(source schemas.Screenshotter, maxDim int) *Capturer {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}
	return &Capturer{source: source, maxDim: maxDim, now: time.Now}
}

// Capture grabs one screenshot, downsizes it and re-encodes it as PNG.
func (c *Capturer) Capture(ctx context.Context) (*schemas.Frame, error) {
	raw, err := c.source.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	img, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	screen := ResolutionOf(img)
	if screen.IsZero() {
		return nil, fmt.Errorf("screenshot has no pixels")
	}

	resized := ResizeKeepAspect(img, c.maxDim)
	encoded, err := EncodePNG(resized)
	if err != nil {
		return nil, err
	}
	return &schemas.Frame{
		PNG:     encoded,
		Decoded: resized,
		Meta: schemas.ResizeMetadata{
			Screen: screen,
			Image:  ResolutionOf(resized),
		},
		CapturedAt: c.now(),
	}, nil
}
