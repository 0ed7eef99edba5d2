package history

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/parser"
)

// Current is the part of the next context that is not yet history.
type Current struct {
	Objective string
	Frame     *schemas.Frame
	// Nudge is the guard's textual steer, shown prominently when set.
	Nudge string
}

const (
	markOK       = "OK"
	markNoEffect = "NO EFFECT"
)

// Materialize renders the history plus the current frame into the message
// sequence for one inference call. Single-shot dialects get one user message
// holding the compressed history. Multi-turn dialects get alternating
// user/assistant messages, with images only on turns that still hold a frame.
// The history is not modified.
func (h *History) Materialize(mode parser.Mode, cur Current) []schemas.Message {
	if mode == parser.ModeSingleShot {
		return []schemas.Message{h.singleShot(cur)}
	}
	return h.multiTurn(cur)
}

func (h *History) singleShot(cur Current) schemas.Message {
	var b strings.Builder
	b.WriteString(cur.Objective)
	h.writeWarnings(&b, cur)
	h.writeFacts(&b)
	if lines := h.lines(); len(lines) > 0 {
		b.WriteString("\n\nPrevious actions:\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	return schemas.Message{Role: schemas.RoleUser, Text: b.String(), Images: frameImages(cur.Frame)}
}

func (h *History) multiTurn(cur Current) []schemas.Message {
	msgs := make([]schemas.Message, 0, 2*len(h.turns)+1)
	for i, t := range h.turns {
		var text string
		if i == 0 {
			text = "OBJECTIVE: " + cur.Objective
		} else {
			text = observationText(h.turns[i-1])
		}
		if t.Observation != "" {
			text += "\n\n" + t.Observation
		}
		msgs = append(msgs,
			schemas.Message{Role: schemas.RoleUser, Text: text, Images: frameImages(t.Frame)},
			schemas.Message{Role: schemas.RoleAssistant, Text: assistantText(t)},
		)
	}

	var b strings.Builder
	if len(h.turns) == 0 {
		b.WriteString("OBJECTIVE: " + cur.Objective)
	} else {
		b.WriteString(observationText(h.turns[len(h.turns)-1]))
	}
	h.writeWarnings(&b, cur)
	h.writeFacts(&b)
	b.WriteString("\n\nDecide the NEXT action from the CURRENT screenshot.")
	msgs = append(msgs, schemas.Message{Role: schemas.RoleUser, Text: b.String(), Images: frameImages(cur.Frame)})
	return msgs
}

// Condensed renders every turn as one text line each, for the recovery planner.
func (h *History) Condensed() string {
	var b strings.Builder
	h.writeFacts(&b)
	if lines := h.lines(); len(lines) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	return strings.TrimSpace(b.String())
}

func (h *History) lines() []string {
	out := make([]string, 0, len(h.turns))
	for _, t := range h.turns {
		if t.Observation != "" {
			out = append(out, fmt.Sprintf("Step %d: FEEDBACK: %s", t.Index+1, firstLine(t.Observation)))
		}
		line := fmt.Sprintf("Step %d: %s", t.Index+1, t.Action.Describe())
		if m := mark(t.Outcome); m != "" {
			line += " -> " + m
		}
		out = append(out, line)
	}
	return out
}

func (h *History) writeWarnings(b *strings.Builder, cur Current) {
	if cur.Nudge != "" {
		b.WriteString("\n\nCRITICAL WARNING: " + cur.Nudge)
		return
	}
	last, ok := h.Last()
	if !ok {
		return
	}
	switch {
	case last.Outcome.Classification == schemas.ClassUnchanged:
		b.WriteString("\n\nWARNING: Your last action had NO visible effect on the screen. That action did NOT work. Try something DIFFERENT.")
	case last.Outcome.Diagnostic == schemas.DiagParseFailure:
		b.WriteString("\n\nWARNING: Your last reply could not be understood. Answer in the required format.")
	}
}

func (h *History) writeFacts(b *strings.Builder) {
	if len(h.facts) == 0 {
		return
	}
	b.WriteString("\n\nMemorized facts:")
	for _, f := range h.facts {
		b.WriteString("\n- " + f)
	}
}

func observationText(prev Turn) string {
	m := mark(prev.Outcome)
	if m == "" {
		m = "done"
	}
	return fmt.Sprintf("Result of step %d (%s): %s", prev.Index+1, prev.Action.Describe(), m)
}

func assistantText(t Turn) string {
	if t.Reply != "" {
		return t.Reply
	}
	return t.Action.Describe()
}

func mark(o Outcome) string {
	switch {
	case o.Err != "":
		return "ERROR: " + o.Err
	case o.Classification == schemas.ClassUnchanged:
		return markNoEffect
	case o.Diagnostic == schemas.DiagParseFailure || o.Diagnostic == schemas.DiagInvalidCoord:
		return "REJECTED (" + o.Diagnostic + ")"
	case o.Classification == schemas.ClassChanged:
		return markOK
	default:
		return ""
	}
}

func frameImages(f *schemas.Frame) []schemas.Image {
	if f == nil || len(f.PNG) == 0 {
		return nil
	}
	return []schemas.Image{{Data: f.PNG, MIMEType: f.MIMEType()}}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
