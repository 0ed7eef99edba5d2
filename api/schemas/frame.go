package schemas

import (
	"image"
	"time"
)

// ResizeMetadata describes the three coordinate spaces a single frame passes
// through on its way to the model and back.
type ResizeMetadata struct {
	// Screen is the true resolution of the sandboxed display.
	Screen Resolution `json:"screen"`
	// Image is the resolution of the image actually sent to the model.
	Image Resolution `json:"image"`
	// Model is the space the model emits coordinates in. For Qwen2.5-VL
	// derived models this is the smart-resized Image, not Image itself.
	Model Resolution `json:"model"`
}

// Frame is one captured screenshot ready to be shown to a model.
type Frame struct {
	PNG        []byte         // Encoded image at Meta.Image resolution.
	Decoded    image.Image    // Same pixels, kept for change classification.
	Meta       ResizeMetadata // Coordinate spaces for this frame.
	CapturedAt time.Time
}

// MIMEType is always PNG; frames are re-encoded after resizing.
func (f *Frame) MIMEType() string { return "image/png" }
