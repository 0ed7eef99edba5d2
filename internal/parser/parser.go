// File: internal/parser/parser.go
package parser

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/coords"
)

// Dialect names one model output grammar.
type Dialect string

const (
	DialectFara   Dialect = "fara"   // <tool_call>{json}</tool_call> structured calls.
	DialectUITARS Dialect = "uitars" // Thought: ... / Action: verb(args) free-form text.
)

// Mode selects how the History Manager materializes context for a dialect.
type Mode int

const (
	// ModeSingleShot packs the whole history into one instruction block.
	ModeSingleShot Mode = iota
	// ModeMultiTurn replays history as alternating user/assistant messages.
	ModeMultiTurn
)

func (m Mode) String() string {
	if m == ModeMultiTurn {
		return "multi-turn"
	}
	return "single-shot"
}

// Parsed is the result of parsing one model reply. Action carries no
// Coordinate yet; Raw holds the model-space point the Coordinate Resolver
// turns into one.
type Parsed struct {
	Action  schemas.Action
	Raw     *schemas.Point
	Thought string
}

// Parser is the contract every dialect implements. Adding a dialect means
// adding one implementation and one registry entry.
type Parser interface {
	Dialect() Dialect
	Mode() Mode
	// Parse never panics; every failure is a *schemas.ParseError.
	Parse(raw string) (Parsed, error)
	// SystemPrompt describes the action space to the model.
	SystemPrompt(model schemas.Resolution) string
	// ModelSpace returns the coordinate space the model emits for an image.
	ModelSpace(image schemas.Resolution) schemas.Resolution
}

// Options tunes dialect construction.
type Options struct {
	// ImageMinTokens and ImageMaxTokens bound the vision encoder's patch
	// budget and determine the smart-resize model space.
	ImageMinTokens int
	ImageMaxTokens int
	// NativeCoordinates disables smart resize: the model is assumed to emit
	// coordinates in the pixel space of the image it was sent.
	NativeCoordinates bool
}

type factory func(Options) Parser

var registry = map[Dialect]factory{
	DialectFara:   func(o Options) Parser { return &faraParser{opts: o} },
	DialectUITARS: func(o Options) Parser { return &uitarsParser{opts: o} },
}

// New returns the parser for a dialect.
func New(d Dialect, opts Options) (Parser, error) {
	f, ok := registry[Dialect(strings.ToLower(string(d)))]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (supported: %s)", d, strings.Join(Supported(), ", "))
	}
	return f(opts), nil
}

// Supported lists the registered dialect names.
func Supported() []string {
	out := make([]string, 0, len(registry))
	for d := range registry {
		out = append(out, string(d))
	}
	sort.Strings(out)
	return out
}

func modelSpace(opts Options, image schemas.Resolution) schemas.Resolution {
	if opts.NativeCoordinates {
		return image
	}
	return coords.SmartResize(image, opts.ImageMinTokens, opts.ImageMaxTokens)
}

// safeParse runs fn and converts both returned errors and panics into
// *schemas.ParseError so a malformed reply can never take the loop down.
func safeParse(d Dialect, raw string, fn func() (Parsed, error)) (p Parsed, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = Parsed{}
			err = &schemas.ParseError{
				Dialect: string(d),
				Reason:  fmt.Sprintf("parser panic: %v", r),
				Raw:     clip(raw),
				Err:     fmt.Errorf("%s", debug.Stack()),
			}
		}
	}()
	p, err = fn()
	if err != nil {
		if _, ok := err.(*schemas.ParseError); !ok {
			err = &schemas.ParseError{Dialect: string(d), Reason: "invalid output", Raw: clip(raw), Err: err}
		}
	}
	return p, err
}

func parseErr(d Dialect, raw, format string, args ...any) error {
	return &schemas.ParseError{Dialect: string(d), Reason: fmt.Sprintf(format, args...), Raw: clip(raw)}
}

func clip(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
