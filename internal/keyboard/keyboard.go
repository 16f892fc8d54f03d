// Package keyboard synthesizes the key chords and text input used to put
// dictated text into the focused application.
package keyboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned when synthetic input is not available on this
// platform, or a character has no key mapping.
var ErrUnsupported = errors.New("synthetic keyboard input unsupported")

// Key is a single non-character key that can be tapped.
type Key int

const (
	KeyTab Key = iota + 1
	KeyEnter
	KeyEscape
)

func (k Key) String() string {
	switch k {
	case KeyTab:
		return "tab"
	case KeyEnter:
		return "enter"
	case KeyEscape:
		return "escape"
	}
	return fmt.Sprintf("key(%d)", int(k))
}

// ParseKey accepts the names used in config files.
func ParseKey(name string) (Key, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tab", "":
		return KeyTab, nil
	case "enter", "return":
		return KeyEnter, nil
	case "esc", "escape":
		return KeyEscape, nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// Keyboard sends synthetic input to whatever window has focus.
type Keyboard interface {
	// Paste sends Ctrl+V as modifier-down, key-down, key-up, modifier-up.
	Paste() error
	// Copy sends Ctrl+C in the same order.
	Copy() error
	Tap(k Key) error
	// TypeText types text character by character, stopping early if ctx ends.
	TypeText(ctx context.Context, text string) error
}
