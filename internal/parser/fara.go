// File: internal/parser/fara.go
package parser

import (
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

const (
	faraOpenTag  = "<tool_call>"
	faraCloseTag = "</tool_call>"
	faraToolName = "computer_use"

	faraDefaultWait = time.Second
	scrollNotches   = 3
)

// faraParser handles the structured-call grammar: free reasoning text followed
// by a JSON call wrapped in <tool_call> markers.
type faraParser struct {
	opts Options
}

var _ Parser = (*faraParser)(nil)

type faraCall struct {
	Name      string   `json:"name"`
	Arguments faraArgs `json:"arguments"`
}

type faraArgs struct {
	Action             string    `json:"action"`
	Coordinate         []float64 `json:"coordinate"`
	Text               *string   `json:"text"`
	Keys               []string  `json:"keys"`
	Pixels             *float64  `json:"pixels"`
	URL                string    `json:"url"`
	Query              string    `json:"query"`
	Time               *float64  `json:"time"`
	Status             string    `json:"status"`
	Fact               string    `json:"fact"`
	PressEnter         *bool     `json:"press_enter"`
	DeleteExistingText *bool     `json:"delete_existing_text"`
}

func (p *faraParser) Dialect() Dialect { return DialectFara }
func (p *faraParser) Mode() Mode       { return ModeMultiTurn }

func (p *faraParser) ModelSpace(image schemas.Resolution) schemas.Resolution {
	return modelSpace(p.opts, image)
}

func (p *faraParser) Parse(raw string) (Parsed, error) {
	return safeParse(DialectFara, raw, func() (Parsed, error) { return p.parse(raw) })
}

func (p *faraParser) parse(raw string) (Parsed, error) {
	open := strings.Index(raw, faraOpenTag)
	if open < 0 {
		return Parsed{}, parseErr(DialectFara, raw, "no %s block", faraOpenTag)
	}
	thought := strings.TrimSpace(raw[:open])

	body := raw[open+len(faraOpenTag):]
	// A reply cut off by the token limit often loses only the closing tag.
	if end := strings.Index(body, faraCloseTag); end >= 0 {
		body = body[:end]
	}
	l, r := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if l < 0 || r <= l {
		return Parsed{}, parseErr(DialectFara, raw, "tool call has no JSON object")
	}

	var call faraCall
	if err := json.Unmarshal([]byte(body[l:r+1]), &call); err != nil {
		return Parsed{}, &schemas.ParseError{Dialect: string(DialectFara), Reason: "malformed tool call JSON", Raw: clip(raw), Err: err}
	}
	if call.Name != faraToolName {
		return Parsed{}, parseErr(DialectFara, raw, "unknown tool %q", call.Name)
	}

	out, err := p.toAction(call.Arguments, raw)
	if err != nil {
		return Parsed{}, err
	}
	out.Thought = thought
	return out, nil
}

func (p *faraParser) toAction(a faraArgs, raw string) (Parsed, error) {
	pt, hasPoint, err := faraPoint(a.Coordinate)
	if err != nil {
		return Parsed{}, parseErr(DialectFara, raw, "%s: %v", a.Action, err)
	}
	requirePoint := func() error {
		if !hasPoint {
			return parseErr(DialectFara, raw, "%s requires a coordinate", a.Action)
		}
		return nil
	}

	var out Parsed
	if hasPoint {
		out.Raw = &pt
	}

	switch a.Action {
	case "left_click":
		if err := requirePoint(); err != nil {
			return Parsed{}, err
		}
		out.Action = schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonLeft, ClickCount: 1}

	case "mouse_move":
		if err := requirePoint(); err != nil {
			return Parsed{}, err
		}
		out.Action = schemas.Action{Kind: schemas.ActionMove}

	case "type":
		if a.Text == nil {
			return Parsed{}, parseErr(DialectFara, raw, "type requires text")
		}
		out.Action = schemas.Action{
			Kind:          schemas.ActionType,
			Text:          *a.Text,
			PressEnter:    boolOr(a.PressEnter, true),
			ClearExisting: boolOr(a.DeleteExistingText, false),
		}

	case "key":
		keys := MapKeys(a.Keys)
		switch len(keys) {
		case 0:
			return Parsed{}, parseErr(DialectFara, raw, "key requires keys")
		case 1:
			out.Action = schemas.Action{Kind: schemas.ActionPress, Key: keys[0]}
		default:
			out.Action = schemas.Action{Kind: schemas.ActionHotkey, Keys: keys}
		}

	case "scroll":
		amount := scrollNotches
		if a.Pixels != nil && *a.Pixels < 0 {
			amount = -scrollNotches
		}
		out.Action = schemas.Action{Kind: schemas.ActionScroll, Amount: amount}

	case "visit_url":
		if strings.TrimSpace(a.URL) == "" {
			return Parsed{}, parseErr(DialectFara, raw, "visit_url requires url")
		}
		out.Action = schemas.Action{Kind: schemas.ActionVisitURL, URL: strings.TrimSpace(a.URL)}

	case "web_search":
		if strings.TrimSpace(a.Query) == "" {
			return Parsed{}, parseErr(DialectFara, raw, "web_search requires query")
		}
		out.Action = schemas.Action{Kind: schemas.ActionWebSearch, Query: strings.TrimSpace(a.Query)}

	case "history_back":
		out.Action = schemas.Action{Kind: schemas.ActionHistoryBack}

	case "wait":
		d := faraDefaultWait
		if a.Time != nil && *a.Time >= 0 {
			d = time.Duration(*a.Time * float64(time.Second))
		}
		out.Action = schemas.Wait(d)

	case "terminate":
		status := a.Status
		if status == "" {
			status = "success"
		}
		out.Action = schemas.Terminate(status)

	case "pause_and_memorize_fact":
		if strings.TrimSpace(a.Fact) == "" {
			return Parsed{}, parseErr(DialectFara, raw, "pause_and_memorize_fact requires fact")
		}
		out.Action = schemas.Action{Kind: schemas.ActionMemorizeFact, Fact: a.Fact}

	case "":
		return Parsed{}, parseErr(DialectFara, raw, "tool call has no action")
	default:
		return Parsed{}, parseErr(DialectFara, raw, "unknown action %q", a.Action)
	}

	// Only pointer kinds and the optional focus target of type/scroll keep a point.
	switch out.Action.Kind {
	case schemas.ActionClick, schemas.ActionMove, schemas.ActionType, schemas.ActionScroll:
	default:
		out.Raw = nil
	}
	return out, nil
}

func faraPoint(c []float64) (schemas.Point, bool, error) {
	switch len(c) {
	case 0:
		return schemas.Point{}, false, nil
	case 2:
		return schemas.Point{X: c[0], Y: c[1]}, true, nil
	default:
		return schemas.Point{}, false, fmt.Errorf("coordinate must have 2 components, got %d", len(c))
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
