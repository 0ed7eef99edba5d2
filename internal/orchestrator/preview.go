package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/vision"
)

const previewRadius = 10

// savePreview writes the frame with the click target marked, when a preview
// directory is configured. Failures are logged and otherwise ignored.
func (o *Orchestrator) savePreview(r *run, s *step) {
	if o.settings.PreviewDir == "" || s.logical.Kind != schemas.ActionClick || s.logical.Coordinate == nil || s.frame.Decoded == nil {
		return
	}
	marked := vision.DrawMarker(s.frame.Decoded, *s.logical.Coordinate, previewRadius)
	data, err := vision.EncodePNG(marked)
	if err == nil {
		err = os.MkdirAll(o.settings.PreviewDir, 0o755)
	}
	if err == nil {
		name := fmt.Sprintf("%s_step_%03d.png", r.id, r.recorded+1)
		err = os.WriteFile(filepath.Join(o.settings.PreviewDir, name), data, 0o644)
	}
	if err != nil {
		r.logger.Debug("Could not save click preview.", zap.Error(err))
	}
}
