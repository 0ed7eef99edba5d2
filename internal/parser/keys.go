package parser

import "strings"

// keyAliases maps DOM-style key names (what Fara and most web-trained models
// emit) to the xdotool-style names the sandboxes accept.
var keyAliases = map[string]string{
	"enter":      "enter",
	"return":     "enter",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
	"control":    "ctrl",
	"ctrl":       "ctrl",
	"shift":      "shift",
	"alt":        "alt",
	"escape":     "esc",
	"esc":        "esc",
	"backspace":  "backspace",
	"delete":     "delete",
	"space":      "space",
	"tab":        "tab",
	"home":       "home",
	"end":        "end",
	"pageup":     "pageup",
	"pagedown":   "pagedown",
	"meta":       "super",
	"cmd":        "super",
	"win":        "super",
}

// MapKey normalizes one key name. Unknown names are lowercased, which also
// covers function keys (F5 -> f5) and single characters.
func MapKey(k string) string {
	if k == " " {
		return "space"
	}
	lower := strings.ToLower(strings.TrimSpace(k))
	if v, ok := keyAliases[lower]; ok {
		return v
	}
	return lower
}

// MapKeys normalizes a chord, dropping empty entries.
func MapKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if m := MapKey(k); m != "" {
			out = append(out, m)
		}
	}
	return out
}
