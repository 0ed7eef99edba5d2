package guard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/vision"
)

// DefaultChangeThreshold is the mean absolute pixel difference, as a fraction
// of full scale, above which a frame counts as changed.
const DefaultChangeThreshold = 0.01

// ChangeClassifier decides whether a pointer action had a visible effect by
// comparing the frame it was chosen on with a frame captured afterwards.
type ChangeClassifier struct {
	capturer  schemas.Capturer
	threshold float64
	settle    time.Duration
	logger    *zap.Logger
}

// NewChangeClassifier builds a classifier. settle delays the post-action
// capture to let UI transitions finish; a non-positive threshold selects the
// default.
func NewChangeClassifier(capturer schemas.Capturer, threshold float64, settle time.Duration, logger *zap.Logger) *ChangeClassifier {
	if threshold <= 0 {
		threshold = DefaultChangeThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeClassifier{
		capturer:  capturer,
		threshold: threshold,
		settle:    max(0, settle),
		logger:    logger.Named("guard.classifier"),
	}
}

// Classify returns the effect classification of an executed logical action.
// Only pointer-class actions are measured; everything else is unknown and no
// frame is captured. A measurement that cannot be completed yields unknown
// together with the reason.
func (c *ChangeClassifier) Classify(ctx context.Context, a schemas.Action, pre *schemas.Frame) (schemas.Classification, error) {
	if action.ClassOf(a.Kind) != action.ClassPointer {
		return schemas.ClassUnknown, nil
	}
	if pre == nil || pre.Decoded == nil {
		return schemas.ClassUnknown, fmt.Errorf("no pre-action frame to compare against")
	}

	if c.settle > 0 {
		t := time.NewTimer(c.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return schemas.ClassUnknown, ctx.Err()
		case <-t.C:
		}
	}

	post, err := c.capturer.Capture(ctx)
	if err != nil {
		return schemas.ClassUnknown, fmt.Errorf("post-action capture: %w", err)
	}
	diff, err := vision.MeanAbsDiff(pre.Decoded, post.Decoded)
	if err != nil {
		return schemas.ClassUnknown, err
	}

	class := schemas.ClassUnchanged
	if diff > c.threshold {
		class = schemas.ClassChanged
	}
	c.logger.Debug("Classified action effect.",
		zap.String("action", a.Describe()),
		zap.Float64("diff", diff),
		zap.Float64("threshold", c.threshold),
		zap.String("class", string(class)))
	return class, nil
}
