package action

import (
	"fmt"
	"math"
	"strings"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Class groups action kinds by how their effect can be verified.
type Class int

const (
	// ClassOther actions are neither measured nor assumed; they classify unknown.
	ClassOther Class = iota
	// ClassPointer actions are click-like; their effect is verified by comparing frames.
	ClassPointer
	// ClassKeyboard actions are assumed delivered at the input level.
	ClassKeyboard
)

// ClassOf returns the verification class of a kind.
func ClassOf(k schemas.ActionKind) Class {
	switch k {
	case schemas.ActionClick:
		return ClassPointer
	case schemas.ActionType, schemas.ActionPress, schemas.ActionHotkey:
		return ClassKeyboard
	default:
		return ClassOther
	}
}

// Signature identifies an action for repeat detection: its kind plus its
// arguments, with coordinates snapped to a grid of the given size so that
// near-identical clicks collide. Compound actions are signed before
// expansion, so a VisitUrl counts once no matter how many primitives it has.
func Signature(a schemas.Action, grid float64) string {
	var b strings.Builder
	b.WriteString(string(a.Kind))

	switch a.Kind {
	case schemas.ActionClick:
		fmt.Fprintf(&b, ":%s:%d", buttonOf(a), max(1, a.ClickCount))
		writeCoord(&b, a.Coordinate, grid)
	case schemas.ActionMove:
		writeCoord(&b, a.Coordinate, grid)
	case schemas.ActionType:
		b.WriteString(":" + a.Text)
		if a.Coordinate != nil {
			writeCoord(&b, a.Coordinate, grid)
		}
	case schemas.ActionPress:
		b.WriteString(":" + a.Key)
	case schemas.ActionHotkey:
		b.WriteString(":" + strings.Join(a.Keys, "+"))
	case schemas.ActionScroll:
		fmt.Fprintf(&b, ":%d", a.Amount)
	case schemas.ActionWait:
		fmt.Fprintf(&b, ":%g", a.Duration.Seconds())
	case schemas.ActionVisitURL:
		b.WriteString(":" + a.URL)
	case schemas.ActionWebSearch:
		b.WriteString(":" + a.Query)
	case schemas.ActionMemorizeFact:
		b.WriteString(":" + a.Fact)
	}
	return b.String()
}

// InvalidSignature is the degenerate signature of an action whose coordinate
// was rejected. Repeating the same rejected kind still counts as a repeat.
func InvalidSignature(k schemas.ActionKind) string {
	return string(k) + ":invalid"
}

func buttonOf(a schemas.Action) schemas.MouseButton {
	if a.Button == "" {
		return schemas.ButtonLeft
	}
	return a.Button
}

func writeCoord(b *strings.Builder, c *schemas.Coordinate, grid float64) {
	if c == nil {
		b.WriteString("@none")
		return
	}
	fmt.Fprintf(b, "@%.4f,%.4f", snap(c.X, grid), snap(c.Y, grid))
}

func snap(v, grid float64) float64 {
	if grid <= 0 {
		return v
	}
	return math.Round(v/grid) * grid
}
