// File: internal/history/history.go
package history

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// DefaultRetainImages is how many of the most recent turns keep their frame.
const DefaultRetainImages = 3

// Turn is one completed step as the model will later see it.
type Turn struct {
	Index int
	// Frame is the screenshot the model acted on. Nil once pruned.
	Frame *schemas.Frame
	// Observation is any extra text the model was shown on this turn, such
	// as a guard nudge.
	Observation string
	// Reply is the model's raw output, replayed verbatim in multi-turn mode.
	Reply   string
	Thought string
	Action  schemas.Action
	Outcome Outcome
}

// Outcome summarizes how execution of a turn's action went.
type Outcome struct {
	Classification schemas.Classification
	Diagnostic     string
	Err            string
}

// History is the bounded multi-turn context of a single run. It is not safe
// for concurrent use; each run owns its own.
type History struct {
	logger *zap.Logger
	retain int
	turns  []Turn
	facts  []string
}

// New creates an empty history that keeps frames on at most retain turns.
// A negative retain is treated as zero.
func New(logger *zap.Logger, retain int) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{logger: logger.Named("history"), retain: max(0, retain)}
}

// Append adds a turn and prunes frames older than the retention window.
// Turn text is never dropped.
func (h *History) Append(t Turn) {
	t.Index = len(h.turns)
	if t.Action.Kind == schemas.ActionMemorizeFact && t.Action.Fact != "" {
		h.facts = append(h.facts, t.Action.Fact)
	}
	h.turns = append(h.turns, t)
	h.prune()
}

func (h *History) prune() {
	cutoff := len(h.turns) - h.retain
	for i := 0; i < cutoff; i++ {
		if h.turns[i].Frame != nil {
			h.turns[i].Frame = nil
			h.logger.Debug("Pruned frame from turn.", zap.Int("turn", i))
		}
	}
}

// Len is the number of turns recorded so far.
func (h *History) Len() int { return len(h.turns) }

// Turns returns a copy of all turns, oldest first.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Last returns the most recent turn.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// Facts returns the facts memorized so far, in order.
func (h *History) Facts() []string {
	out := make([]string, len(h.facts))
	copy(out, h.facts)
	return out
}

// RetainedFrames counts turns that still hold a frame.
func (h *History) RetainedFrames() int {
	n := 0
	for _, t := range h.turns {
		if t.Frame != nil {
			n++
		}
	}
	return n
}
