// api/schemas/action.go
package schemas

import (
	"fmt"
	"time"
)

// ActionKind is the closed set of canonical action variants. Every dialect
// parser produces one of these, regardless of the grammar the model speaks.
type ActionKind string

const (
	// -- Pointer --
	ActionClick ActionKind = "click" // Presses a mouse button at a coordinate.
	ActionMove  ActionKind = "move"  // Moves the cursor without pressing.

	// -- Keyboard --
	ActionType   ActionKind = "type"   // Types literal text, optionally focusing a coordinate first.
	ActionPress  ActionKind = "press"  // Presses a single named key.
	ActionHotkey ActionKind = "hotkey" // Presses a key chord, e.g. ctrl+l.

	// -- Viewport & Timing --
	ActionScroll ActionKind = "scroll" // Scrolls by a signed number of notches (positive is up).
	ActionWait   ActionKind = "wait"   // Idles for a duration.

	// -- Compound (expanded before execution) --
	ActionVisitURL  ActionKind = "visit_url"  // Navigates the focused browser to a URL.
	ActionWebSearch ActionKind = "web_search" // Submits a query through the browser address input.

	// -- Navigation & Control --
	ActionHistoryBack  ActionKind = "history_back"  // Goes back one page in the browser history.
	ActionTerminate    ActionKind = "terminate"     // The model declares the objective finished.
	ActionMemorizeFact ActionKind = "memorize_fact" // Records a fact for later turns; never executed.
)

// MouseButton names the button used by a Click.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Resolution is a pixel size.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether either dimension is unusable.
func (r Resolution) IsZero() bool { return r.Width <= 0 || r.Height <= 0 }

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// Point is a raw coordinate exactly as a model emitted it, in the model's own
// pixel space. It only exists between parsing and coordinate resolution.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Coordinate is a screen-space position normalized to [0,1]x[0,1]. Source
// records the model-space resolution used to resolve it and is kept for
// diagnostics only.
type Coordinate struct {
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	Source Resolution `json:"source"`
}

// Action is the canonical, dialect-independent representation of one
// operation. Only the fields relevant to Kind are populated.
type Action struct {
	Kind ActionKind `json:"kind"`

	Coordinate *Coordinate `json:"coordinate,omitempty"` // Click, Move; optional focus target for Type and Scroll.
	Button     MouseButton `json:"button,omitempty"`     // Click only.
	ClickCount int         `json:"click_count,omitempty"`

	Text          string   `json:"text,omitempty"`
	PressEnter    bool     `json:"press_enter,omitempty"`
	ClearExisting bool     `json:"clear_existing,omitempty"`
	Key           string   `json:"key,omitempty"`
	Keys          []string `json:"keys,omitempty"`

	Amount   int           `json:"amount,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	URL    string `json:"url,omitempty"`
	Query  string `json:"query,omitempty"`
	Status string `json:"status,omitempty"`
	Fact   string `json:"fact,omitempty"`

	// Diagnostic is set when the action was synthesized by the engine itself,
	// e.g. the Wait substituted for unparseable model output.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Click builds a left single click at a normalized coordinate.
func Click(x, y float64) Action {
	return Action{Kind: ActionClick, Coordinate: &Coordinate{X: x, Y: y}, Button: ButtonLeft, ClickCount: 1}
}

// Wait builds a Wait of the given duration.
func Wait(d time.Duration) Action { return Action{Kind: ActionWait, Duration: d} }

// Terminate builds a Terminate carrying a status.
func Terminate(status string) Action { return Action{Kind: ActionTerminate, Status: status} }

// Describe renders a short human readable form used in logs and history text.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionClick:
		verb := "click"
		switch {
		case a.Button == ButtonRight:
			verb = "right_click"
		case a.ClickCount == 2:
			verb = "double_click"
		}
		if a.Coordinate == nil {
			return verb
		}
		return fmt.Sprintf("%s at (%.4f, %.4f)", verb, a.Coordinate.X, a.Coordinate.Y)
	case ActionMove:
		if a.Coordinate == nil {
			return "move"
		}
		return fmt.Sprintf("move to (%.4f, %.4f)", a.Coordinate.X, a.Coordinate.Y)
	case ActionType:
		return fmt.Sprintf("type %q", truncate(a.Text, 40))
	case ActionPress:
		return "press " + a.Key
	case ActionHotkey:
		return "hotkey " + joinKeys(a.Keys)
	case ActionScroll:
		return fmt.Sprintf("scroll %+d", a.Amount)
	case ActionWait:
		return fmt.Sprintf("wait %s", a.Duration)
	case ActionVisitURL:
		return "visit_url " + a.URL
	case ActionWebSearch:
		return fmt.Sprintf("web_search %q", a.Query)
	case ActionTerminate:
		if a.Status == "" {
			return "terminate"
		}
		return "terminate (" + a.Status + ")"
	case ActionMemorizeFact:
		return fmt.Sprintf("memorize %q", truncate(a.Fact, 60))
	default:
		return string(a.Kind)
	}
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "+"
		}
		out += k
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
