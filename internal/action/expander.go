// File: internal/action/expander.go
package action

import (
	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// AddressBarHotkey focuses the browser's address input on every mainstream
// browser and also selects its current contents.
var AddressBarHotkey = []string{"ctrl", "l"}

// Expand turns a logical action into the ordered primitive sequence the
// executor runs. Only compound kinds expand; everything else comes back as a
// one element list holding the action itself. The result is never empty.
func Expand(a schemas.Action) []schemas.Action {
	switch a.Kind {
	case schemas.ActionVisitURL:
		return viaAddressBar(a.URL)
	case schemas.ActionWebSearch:
		return viaAddressBar(a.Query)
	default:
		return []schemas.Action{a}
	}
}

// viaAddressBar focuses the address input, types the literal text and submits.
func viaAddressBar(text string) []schemas.Action {
	keys := make([]string, len(AddressBarHotkey))
	copy(keys, AddressBarHotkey)
	return []schemas.Action{
		{Kind: schemas.ActionHotkey, Keys: keys},
		{Kind: schemas.ActionType, Text: text},
		{Kind: schemas.ActionPress, Key: "enter"},
	}
}

// IsCompound reports whether Expand produces more than the action itself.
func IsCompound(k schemas.ActionKind) bool {
	return k == schemas.ActionVisitURL || k == schemas.ActionWebSearch
}
