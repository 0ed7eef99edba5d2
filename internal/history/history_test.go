package history

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/parser"
)

func setupHistory(t *testing.T, retain int) *History {
	t.Helper()
	return New(zaptest.NewLogger(t), retain)
}

func frame(tag string) *schemas.Frame {
	return &schemas.Frame{PNG: []byte(tag)}
}

func clickTurn(i int, class schemas.Classification) Turn {
	return Turn{
		Frame:   frame(fmt.Sprintf("png-%d", i)),
		Reply:   fmt.Sprintf("reply %d", i),
		Action:  schemas.Click(0.1*float64(i%9+1), 0.5),
		Outcome: Outcome{Classification: class},
	}
}

// -- Retention --

func TestAppend_PrunesFramesButKeepsText(t *testing.T) {
	h := setupHistory(t, 3)
	for i := 0; i < 10; i++ {
		h.Append(clickTurn(i, schemas.ClassChanged))
		assert.LessOrEqual(t, h.RetainedFrames(), 3, "after append %d", i)
	}

	turns := h.Turns()
	require.Len(t, turns, 10)
	for i, turn := range turns {
		assert.Equal(t, i, turn.Index)
		assert.Equal(t, fmt.Sprintf("reply %d", i), turn.Reply, "text must survive pruning")
		if i < 7 {
			assert.Nil(t, turn.Frame, "turn %d should be pruned", i)
		} else {
			require.NotNil(t, turn.Frame, "turn %d should be retained", i)
			assert.Equal(t, fmt.Sprintf("png-%d", i), string(turn.Frame.PNG))
		}
	}
}

func TestAppend_ZeroRetention(t *testing.T) {
	h := setupHistory(t, 0)
	h.Append(clickTurn(0, schemas.ClassChanged))
	assert.Equal(t, 0, h.RetainedFrames())
	assert.Equal(t, 1, h.Len())
}

func TestAppend_CollectsFacts(t *testing.T) {
	h := setupHistory(t, 3)
	h.Append(Turn{Action: schemas.Action{Kind: schemas.ActionMemorizeFact, Fact: "price is $29.99"}})
	h.Append(Turn{Action: schemas.Action{Kind: schemas.ActionMemorizeFact}})
	assert.Equal(t, []string{"price is $29.99"}, h.Facts())
}

// -- Materialization --

func TestMaterialize_MultiTurnAlternates(t *testing.T) {
	h := setupHistory(t, 2)
	for i := 0; i < 4; i++ {
		h.Append(clickTurn(i, schemas.ClassChanged))
	}
	cur := Current{Objective: "open settings", Frame: frame("current")}

	msgs := h.Materialize(parser.ModeMultiTurn, cur)
	require.Len(t, msgs, 9)
	for i, m := range msgs {
		want := schemas.RoleUser
		if i%2 == 1 {
			want = schemas.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}

	assert.Contains(t, msgs[0].Text, "OBJECTIVE: open settings")
	assert.Empty(t, msgs[0].Images, "turn 0 frame was pruned")
	assert.Empty(t, msgs[2].Images, "turn 1 frame was pruned")
	assert.Len(t, msgs[4].Images, 1)
	assert.Len(t, msgs[6].Images, 1)
	assert.Equal(t, "reply 3", msgs[7].Text)

	last := msgs[8]
	require.Len(t, last.Images, 1)
	assert.Equal(t, "current", string(last.Images[0].Data))
	assert.Contains(t, last.Text, "Result of step 4")
	assert.Contains(t, last.Text, "OK")

	// Materialize is pure.
	assert.Equal(t, msgs, h.Materialize(parser.ModeMultiTurn, cur))
	assert.Equal(t, 2, h.RetainedFrames())
}

func TestMaterialize_MultiTurnEmpty(t *testing.T) {
	h := setupHistory(t, 3)
	msgs := h.Materialize(parser.ModeMultiTurn, Current{Objective: "x", Frame: frame("f")})
	require.Len(t, msgs, 1)
	assert.Equal(t, schemas.RoleUser, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "OBJECTIVE: x"))
}

func TestMaterialize_SingleShotCompresses(t *testing.T) {
	h := setupHistory(t, 3)
	h.Append(clickTurn(0, schemas.ClassChanged))
	h.Append(Turn{Action: schemas.Action{Kind: schemas.ActionPress, Key: "enter"}, Outcome: Outcome{Classification: schemas.ClassUnknown}})
	h.Append(clickTurn(2, schemas.ClassUnchanged))

	msgs := h.Materialize(parser.ModeSingleShot, Current{Objective: "find the price", Frame: frame("now")})
	require.Len(t, msgs, 1)
	text := msgs[0].Text

	assert.True(t, strings.HasPrefix(text, "find the price"))
	assert.Contains(t, text, "Previous actions:")
	assert.Contains(t, text, "Step 1: click at (0.1000, 0.5000) -> OK")
	assert.Contains(t, text, "Step 2: press enter\n")
	assert.Contains(t, text, "Step 3: click at (0.3000, 0.5000) -> NO EFFECT")
	assert.Contains(t, text, "NO visible effect", "last turn had no effect")
	require.Len(t, msgs[0].Images, 1)
	assert.Equal(t, "now", string(msgs[0].Images[0].Data))
}

func TestMaterialize_NudgeAndFacts(t *testing.T) {
	h := setupHistory(t, 3)
	h.Append(Turn{Action: schemas.Action{Kind: schemas.ActionMemorizeFact, Fact: "order #123"}})
	h.Append(clickTurn(1, schemas.ClassUnchanged))

	for _, mode := range []parser.Mode{parser.ModeSingleShot, parser.ModeMultiTurn} {
		msgs := h.Materialize(mode, Current{Objective: "o", Nudge: "stop clicking there"})
		text := msgs[len(msgs)-1].Text
		assert.Contains(t, text, "CRITICAL WARNING: stop clicking there", mode.String())
		assert.NotContains(t, text, "NO visible effect", "nudge replaces the no-effect warning")
		assert.Contains(t, text, "Memorized facts:\n- order #123", mode.String())
	}
}

func TestCondensed(t *testing.T) {
	h := setupHistory(t, 1)
	h.Append(Turn{Action: schemas.Wait(0), Outcome: Outcome{Diagnostic: schemas.DiagParseFailure}})
	h.Append(Turn{Observation: "loop detected\nmore detail", Action: schemas.Action{Kind: schemas.ActionHistoryBack}})

	got := h.Condensed()
	assert.Equal(t, "Step 1: wait 0s -> REJECTED (parse_failure)\nStep 2: FEEDBACK: loop detected\nStep 2: history_back", got)
}
