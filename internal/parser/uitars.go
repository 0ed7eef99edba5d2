// File: internal/parser/uitars.go
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

const uitarsWait = 5 * time.Second

var (
	uitarsThoughtRe = regexp.MustCompile(`(?s)Thought:\s*(.+?)(?:\nAction:|\n\n|$)`)
	uitarsActionRe  = regexp.MustCompile(`(?i)Action:\s*(.+?)(?:\n|$)`)
	// Either a 2-tuple point or a 4-tuple box, optionally wrapped in box tokens.
	uitarsBoxRe   = regexp.MustCompile(`\((-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)(?:\s*,\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?))?\)`)
	uitarsArgRes  = map[string][2]*regexp.Regexp{}
	uitarsArgKeys = []string{"content", "key", "direction"}
)

func init() {
	for _, k := range uitarsArgKeys {
		uitarsArgRes[k] = [2]*regexp.Regexp{
			regexp.MustCompile(k + `\s*=\s*'((?:[^'\\]|\\.)*)'`),
			regexp.MustCompile(k + `\s*=\s*"((?:[^"\\]|\\.)*)"`),
		}
	}
}

// uitarsParser handles the free-form grammar: a Thought paragraph followed by
// a single Action line holding a verb call.
type uitarsParser struct {
	opts Options
}

var _ Parser = (*uitarsParser)(nil)

func (p *uitarsParser) Dialect() Dialect { return DialectUITARS }
func (p *uitarsParser) Mode() Mode       { return ModeSingleShot }

func (p *uitarsParser) ModelSpace(image schemas.Resolution) schemas.Resolution {
	return modelSpace(p.opts, image)
}

func (p *uitarsParser) Parse(raw string) (Parsed, error) {
	return safeParse(DialectUITARS, raw, func() (Parsed, error) { return p.parse(raw) })
}

func (p *uitarsParser) parse(raw string) (Parsed, error) {
	text := strings.TrimSpace(raw)

	var thought string
	if m := uitarsThoughtRe.FindStringSubmatch(text); m != nil {
		thought = strings.TrimSpace(m[1])
	}

	m := uitarsActionRe.FindStringSubmatch(text)
	if m == nil {
		return Parsed{}, parseErr(DialectUITARS, raw, "no Action line")
	}
	call := strings.TrimSpace(m[1])
	paren := strings.Index(call, "(")
	if paren <= 0 {
		return Parsed{}, parseErr(DialectUITARS, raw, "action %q is not a call", call)
	}
	verb := strings.ToLower(strings.TrimSpace(call[:paren]))
	args := call[paren:]

	out := Parsed{Thought: thought}
	pt, hasPoint := uitarsPoint(args)
	if hasPoint {
		out.Raw = &pt
	}
	needPoint := func() error {
		if !hasPoint {
			return parseErr(DialectUITARS, raw, "%s requires start_box", verb)
		}
		return nil
	}

	switch verb {
	case "click", "left_single":
		if err := needPoint(); err != nil {
			return Parsed{}, err
		}
		out.Action = schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonLeft, ClickCount: 1}

	case "left_double", "double_click":
		if err := needPoint(); err != nil {
			return Parsed{}, err
		}
		out.Action = schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonLeft, ClickCount: 2}

	case "right_single", "right_click":
		if err := needPoint(); err != nil {
			return Parsed{}, err
		}
		out.Action = schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonRight, ClickCount: 1}

	case "hotkey":
		keyStr, ok := uitarsArg(args, "key")
		if !ok {
			return Parsed{}, parseErr(DialectUITARS, raw, "hotkey requires key")
		}
		keys := MapKeys(strings.Fields(keyStr))
		switch len(keys) {
		case 0:
			return Parsed{}, parseErr(DialectUITARS, raw, "hotkey has no keys")
		case 1:
			out.Action = schemas.Action{Kind: schemas.ActionPress, Key: keys[0]}
		default:
			out.Action = schemas.Action{Kind: schemas.ActionHotkey, Keys: keys}
		}
		out.Raw = nil

	case "type":
		content, ok := uitarsArg(args, "content")
		if !ok {
			return Parsed{}, parseErr(DialectUITARS, raw, "type requires content")
		}
		content = unescape(content)
		// A trailing newline is the grammar's way of asking for submission.
		submit := strings.HasSuffix(content, "\n")
		out.Action = schemas.Action{
			Kind:       schemas.ActionType,
			Text:       strings.TrimSuffix(content, "\n"),
			PressEnter: submit,
		}
		out.Raw = nil

	case "scroll":
		dir, ok := uitarsArg(args, "direction")
		if !ok {
			dir = "down"
		}
		amount := scrollNotches
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "down", "right":
			amount = -scrollNotches
		}
		out.Action = schemas.Action{Kind: schemas.ActionScroll, Amount: amount}

	case "wait":
		out.Action = schemas.Wait(uitarsWait)
		out.Raw = nil

	case "finished":
		content, _ := uitarsArg(args, "content")
		out.Action = schemas.Action{Kind: schemas.ActionTerminate, Status: "success", Text: unescape(content)}
		out.Raw = nil

	default:
		return Parsed{}, parseErr(DialectUITARS, raw, "unsupported action %q", verb)
	}
	return out, nil
}

// uitarsPoint extracts the first point or box in the argument list. Boxes are
// reduced to their center.
func uitarsPoint(args string) (schemas.Point, bool) {
	m := uitarsBoxRe.FindStringSubmatch(args)
	if m == nil {
		return schemas.Point{}, false
	}
	x1, _ := strconv.ParseFloat(m[1], 64)
	y1, _ := strconv.ParseFloat(m[2], 64)
	if m[3] == "" {
		return schemas.Point{X: x1, Y: y1}, true
	}
	x2, _ := strconv.ParseFloat(m[3], 64)
	y2, _ := strconv.ParseFloat(m[4], 64)
	return schemas.Point{X: (x1 + x2) / 2, Y: (y1 + y2) / 2}, true
}

func uitarsArg(args, key string) (string, bool) {
	for _, re := range uitarsArgRes[key] {
		if m := re.FindStringSubmatch(args); m != nil {
			return m[1], true
		}
	}
	return "", false
}

var unescaper = strings.NewReplacer(`\n`, "\n", `\'`, "'", `\"`, `"`, `\\`, `\`)

func unescape(s string) string { return unescaper.Replace(s) }
