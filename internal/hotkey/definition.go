package hotkey

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Modifier is a bitmask of held modifier keys.
type Modifier uint32

const (
	ModAlt   Modifier = 0x0001
	ModCtrl  Modifier = 0x0002
	ModShift Modifier = 0x0004
	ModWin   Modifier = 0x0008
)

// Has reports whether every modifier in o is also set in m.
func (m Modifier) Has(o Modifier) bool { return m&o == o }

// Count returns the number of modifiers in the mask.
func (m Modifier) Count() int { return bits.OnesCount32(uint32(m)) }

func (m Modifier) String() string {
	var parts []string
	if m.Has(ModCtrl) {
		parts = append(parts, "ctrl")
	}
	if m.Has(ModWin) {
		parts = append(parts, "win")
	}
	if m.Has(ModAlt) {
		parts = append(parts, "alt")
	}
	if m.Has(ModShift) {
		parts = append(parts, "shift")
	}
	return strings.Join(parts, "+")
}

// VKey is a Win32 virtual-key code. Zero means "no key".
type VKey uint32

const (
	vkNumpad0  VKey = 0x60
	vkAdd      VKey = 0x6B
	vkSubtract VKey = 0x6D
	vkF1       VKey = 0x70
)

// Definition describes one registered hotkey combination.
// Definitions are values; the arbiter keeps its own copy.
type Definition struct {
	ID       string
	Mods     Modifier
	Key      VKey
	Priority int
}

// Size is the number of keys that must be held for d to match.
func (d Definition) Size() int {
	n := d.Mods.Count()
	if d.Key != 0 {
		n++
	}
	return n
}

// Covers reports whether d requires a strict superset of the keys o requires.
func (d Definition) Covers(o Definition) bool {
	if !d.Mods.Has(o.Mods) {
		return false
	}
	if o.Key != 0 && d.Key != o.Key {
		return false
	}
	return d.Size() > o.Size()
}

func (d Definition) matches(s KeyState) bool {
	if !s.Mods.Has(d.Mods) {
		return false
	}
	if d.Key != 0 && !s.Down(d.Key) {
		return false
	}
	return true
}

func (d Definition) String() string {
	combo := d.Mods.String()
	if d.Key != 0 {
		k := keyName(d.Key)
		if combo == "" {
			return k
		}
		combo += "+" + k
	}
	return combo
}

// ParseDefinition accepts strings like "ctrl+win", "ctrl+win+alt", "alt+q" or "f9".
// Modifier-only combinations are allowed.
func ParseDefinition(id, combo string) (Definition, error) {
	if strings.TrimSpace(combo) == "" {
		return Definition{}, fmt.Errorf("hotkey %q: empty key", id)
	}
	d := Definition{ID: id}
	for _, p := range strings.Split(combo, "+") {
		tok := strings.TrimSpace(strings.ToLower(p))
		if m, ok := modifierToken(tok); ok {
			d.Mods |= m
			continue
		}
		if d.Key != 0 {
			return Definition{}, fmt.Errorf("hotkey %q: more than one non-modifier key in %q", id, combo)
		}
		vk, err := parseKeyToken(tok)
		if err != nil {
			return Definition{}, fmt.Errorf("hotkey %q: %w", id, err)
		}
		d.Key = vk
	}
	return d, nil
}

func modifierToken(tok string) (Modifier, bool) {
	switch tok {
	case "alt", "menu":
		return ModAlt, true
	case "ctrl", "control":
		return ModCtrl, true
	case "shift":
		return ModShift, true
	case "win", "meta", "super", "cmd":
		return ModWin, true
	}
	return 0, false
}

var namedKeys = map[string]VKey{
	"esc":       0x1B,
	"escape":    0x1B,
	"space":     0x20,
	"enter":     0x0D,
	"return":    0x0D,
	"tab":       0x09,
	"backspace": 0x08,
	"insert":    0x2D,
	"delete":    0x2E,
	"home":      0x24,
	"end":       0x23,
	"pageup":    0x21,
	"pagedown":  0x22,
	"left":      0x25,
	"up":        0x26,
	"right":     0x27,
	"down":      0x28,
	"add":       vkAdd,
	"plus":      vkAdd,
	"kpadd":     vkAdd,
	"subtract":  vkSubtract,
	"minus":     vkSubtract,
}

func parseKeyToken(tok string) (VKey, error) {
	if tok == "" {
		return 0, fmt.Errorf("empty key token")
	}
	if len(tok) == 1 {
		ch := tok[0]
		switch {
		case ch >= 'a' && ch <= 'z':
			return VKey(ch - 'a' + 'A'), nil
		case ch >= '0' && ch <= '9':
			return VKey(ch), nil
		}
	}
	if v, ok := namedKeys[tok]; ok {
		return v, nil
	}
	if n, ok := strings.CutPrefix(tok, "f"); ok {
		if i, err := strconv.Atoi(n); err == nil && i >= 1 && i <= 24 {
			return vkF1 + VKey(i-1), nil
		}
	}
	for _, prefix := range []string{"numpad", "num", "kp"} {
		if n, ok := strings.CutPrefix(tok, prefix); ok {
			if i, err := strconv.Atoi(n); err == nil && i >= 0 && i <= 9 {
				return vkNumpad0 + VKey(i), nil
			}
		}
	}
	return 0, fmt.Errorf("unsupported key token: %s", tok)
}

func keyName(vk VKey) string {
	switch {
	case vk >= 'A' && vk <= 'Z':
		return string(rune('a' + vk - 'A'))
	case vk >= '0' && vk <= '9':
		return string(rune(vk))
	case vk >= vkF1 && vk < vkF1+24:
		return "f" + strconv.Itoa(int(vk-vkF1)+1)
	case vk >= vkNumpad0 && vk <= vkNumpad0+9:
		return "numpad" + strconv.Itoa(int(vk-vkNumpad0))
	}
	best := ""
	for name, v := range namedKeys {
		if v == vk && (best == "" || name < best) {
			best = name
		}
	}
	if best != "" {
		return best
	}
	return fmt.Sprintf("vk%#x", uint32(vk))
}

// WatchedKeys returns the distinct non-modifier keys referenced by defs.
func WatchedKeys(defs []Definition) []VKey {
	seen := make(map[VKey]bool)
	var keys []VKey
	for _, d := range defs {
		if d.Key != 0 && !seen[d.Key] {
			seen[d.Key] = true
			keys = append(keys, d.Key)
		}
	}
	return keys
}
