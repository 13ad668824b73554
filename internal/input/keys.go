package input

import (
	"sort"
	"strings"

	"github.com/Iron-Ham/termctl/internal/errors"
)

// namedKeys maps accepted key names (lower case) to X keysyms.
var namedKeys = map[string]string{
	"return":    "Return",
	"enter":     "Return",
	"tab":       "Tab",
	"escape":    "Escape",
	"esc":       "Escape",
	"backspace": "BackSpace",
	"bspace":    "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"dc":        "Delete",
	"insert":    "Insert",
	"ins":       "Insert",
	"ic":        "Insert",
	"home":      "Home",
	"end":       "End",
	"page_up":   "Page_Up",
	"pageup":    "Page_Up",
	"pgup":      "Page_Up",
	"prior":     "Page_Up",
	"page_down": "Page_Down",
	"pagedown":  "Page_Down",
	"pgdown":    "Page_Down",
	"pgdn":      "Page_Down",
	"next":      "Page_Down",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"space":     "space",
	"f1":        "F1",
	"f2":        "F2",
	"f3":        "F3",
	"f4":        "F4",
	"f5":        "F5",
	"f6":        "F6",
	"f7":        "F7",
	"f8":        "F8",
	"f9":        "F9",
	"f10":       "F10",
	"f11":       "F11",
	"f12":       "F12",
}

// modifiers maps accepted modifier names to xdotool modifier names.
var modifiers = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"meta":    "alt",
	"shift":   "shift",
	"super":   "super",
	"win":     "super",
}

// tmuxPrefixes maps tmux-style prefixes such as "C-c" to modifiers.
var tmuxPrefixes = map[byte]string{
	'C': "ctrl",
	'M': "alt",
	'S': "shift",
}

// modifierOrder fixes the order modifiers appear in a resolved symbol.
var modifierOrder = []string{"ctrl", "alt", "shift", "super"}

// ResolveKey converts a user-facing key name into an xdotool key symbol.
//
// Accepted forms are named keys ("Enter", "pgup", "F5"), single letters and
// digits, and modifier combinations joined with "+" ("ctrl+c",
// "ctrl+alt+Delete") or written tmux-style ("C-c", "M-x"). Anything else
// fails with UnknownKeySymbol.
func ResolveKey(name string) (string, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return "", unknownKey(name)
	}

	held := map[string]bool{}
	for len(key) > 2 && key[1] == '-' {
		mod, ok := tmuxPrefixes[key[0]]
		if !ok {
			break
		}
		held[mod] = true
		key = key[2:]
	}

	parts := strings.Split(key, "+")
	base := parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifiers[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return "", unknownKey(name)
		}
		held[mod] = true
	}

	sym, ok := baseSymbol(strings.TrimSpace(base))
	if !ok {
		return "", unknownKey(name)
	}

	var b strings.Builder
	for _, mod := range modifierOrder {
		if held[mod] {
			b.WriteString(mod)
			b.WriteByte('+')
		}
	}
	b.WriteString(sym)
	return b.String(), nil
}

func baseSymbol(base string) (string, bool) {
	if sym, ok := namedKeys[strings.ToLower(base)]; ok {
		return sym, true
	}
	if len(base) == 1 {
		c := base[0]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			return base, true
		}
	}
	return "", false
}

func unknownKey(name string) error {
	return errors.NewEngineError(errors.KindUnknownKeySymbol,
		"unknown key symbol "+strings.TrimSpace(name), nil).
		WithContext("key", name)
}

// KeyNames returns every accepted named key and alias, sorted.
func KeyNames() []string {
	names := make([]string, 0, len(namedKeys))
	for name := range namedKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KeySymbol returns the keysym a named key resolves to.
func KeySymbol(name string) string {
	return namedKeys[strings.ToLower(name)]
}

// ModifierNames returns the accepted modifier names, sorted.
func ModifierNames() []string {
	names := make([]string, 0, len(modifiers))
	for name := range modifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
