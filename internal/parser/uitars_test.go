package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

func newUITARS(t *testing.T) Parser {
	t.Helper()
	p, err := New(DialectUITARS, Options{})
	require.NoError(t, err)
	return p
}

func TestUITARSParse_Samples(t *testing.T) {
	p := newUITARS(t)

	tests := []struct {
		name   string
		raw    string
		want   schemas.Action
		wantPt *schemas.Point
	}{
		{
			name:   "click",
			raw:    "Thought: The search box is at the top.\nAction: click(start_box='(235,512)')",
			want:   schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonLeft, ClickCount: 1},
			wantPt: &schemas.Point{X: 235, Y: 512},
		},
		{
			name:   "click with box tokens and a bounding box",
			raw:    "Thought: Press the button.\nAction: click(start_box='<|box_start|>(100,200,300,400)<|box_end|>')",
			want:   schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonLeft, ClickCount: 1},
			wantPt: &schemas.Point{X: 200, Y: 300},
		},
		{
			name:   "double click",
			raw:    "Thought: Open the file.\nAction: left_double(start_box='(10,20)')",
			want:   schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonLeft, ClickCount: 2},
			wantPt: &schemas.Point{X: 10, Y: 20},
		},
		{
			name:   "right click",
			raw:    "Thought: Context menu.\nAction: right_single(start_box='(10.5,20.25)')",
			want:   schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonRight, ClickCount: 1},
			wantPt: &schemas.Point{X: 10.5, Y: 20.25},
		},
		{
			name: "hotkey chord",
			raw:  "Thought: Copy.\nAction: hotkey(key='ctrl c')",
			want: schemas.Action{Kind: schemas.ActionHotkey, Keys: []string{"ctrl", "c"}},
		},
		{
			name: "single key hotkey becomes press",
			raw:  "Thought: Submit.\nAction: hotkey(key='Enter')",
			want: schemas.Action{Kind: schemas.ActionPress, Key: "enter"},
		},
		{
			name: "type with escapes",
			raw:  `Thought: Enter the name.` + "\n" + `Action: type(content='it\'s a \"test\"')`,
			want: schemas.Action{Kind: schemas.ActionType, Text: `it's a "test"`},
		},
		{
			name: "type with trailing newline submits",
			raw:  "Thought: Search.\nAction: type(content='golang\\n')",
			want: schemas.Action{Kind: schemas.ActionType, Text: "golang", PressEnter: true},
		},
		{
			name: "type with double quotes",
			raw:  "Thought: t.\nAction: type(content=\"hello\")",
			want: schemas.Action{Kind: schemas.ActionType, Text: "hello"},
		},
		{
			name:   "scroll down at point",
			raw:    "Thought: More results.\nAction: scroll(start_box='(500,500)', direction='down')",
			want:   schemas.Action{Kind: schemas.ActionScroll, Amount: -3},
			wantPt: &schemas.Point{X: 500, Y: 500},
		},
		{
			name: "scroll up",
			raw:  "Thought: Back up.\nAction: scroll(direction='up')",
			want: schemas.Action{Kind: schemas.ActionScroll, Amount: 3},
		},
		{
			name: "wait",
			raw:  "Thought: Loading.\nAction: wait()",
			want: schemas.Wait(5 * time.Second),
		},
		{
			name: "finished",
			raw:  "Thought: Done.\nAction: finished(content='The page is open.')",
			want: schemas.Action{Kind: schemas.ActionTerminate, Status: "success", Text: "The page is open."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.raw)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got.Action); diff != "" {
				t.Errorf("action mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantPt, got.Raw)
			assert.NotEmpty(t, got.Thought)
		})
	}
}

func TestUITARSParse_ThoughtIsOptional(t *testing.T) {
	got, err := newUITARS(t).Parse("Action: click(start_box='(1,2)')")
	require.NoError(t, err)
	assert.Empty(t, got.Thought)
	assert.Equal(t, schemas.ActionClick, got.Action.Kind)
}

func TestUITARSParse_Failures(t *testing.T) {
	p := newUITARS(t)
	cases := map[string]string{
		"no action line":       "Thought: I am not sure yet.",
		"not a call":           "Thought: x\nAction: click",
		"unknown verb":         "Thought: x\nAction: teleport(start_box='(1,2)')",
		"click without box":    "Thought: x\nAction: click()",
		"drag is unsupported":  "Thought: x\nAction: drag(start_box='(1,2)', end_box='(3,4)')",
		"type without content": "Thought: x\nAction: type()",
		"empty":                "",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse(raw)
			var pe *schemas.ParseError
			require.True(t, errors.As(err, &pe), "expected ParseError, got %v", err)
			assert.Equal(t, "uitars", pe.Dialect)
		})
	}
}

func TestUITARSSystemPrompt(t *testing.T) {
	p := newUITARS(t)
	prompt := p.SystemPrompt(schemas.Resolution{Width: 1288, Height: 728})
	assert.Contains(t, prompt, "1288x728")
	assert.Contains(t, prompt, "## Action Space")
	assert.Equal(t, ModeSingleShot, p.Mode())
}
