//go:build linux

package keyboard

import (
	"context"
	"fmt"
	"time"

	"github.com/micmonay/keybd_event"
)

// uinput devices are not picked up by the compositor immediately.
const deviceSettle = 2 * time.Second

type stroke struct {
	code  int
	shift bool
}

var letterCodes = [26]int{
	keybd_event.VK_A, keybd_event.VK_B, keybd_event.VK_C, keybd_event.VK_D, keybd_event.VK_E,
	keybd_event.VK_F, keybd_event.VK_G, keybd_event.VK_H, keybd_event.VK_I, keybd_event.VK_J,
	keybd_event.VK_K, keybd_event.VK_L, keybd_event.VK_M, keybd_event.VK_N, keybd_event.VK_O,
	keybd_event.VK_P, keybd_event.VK_Q, keybd_event.VK_R, keybd_event.VK_S, keybd_event.VK_T,
	keybd_event.VK_U, keybd_event.VK_V, keybd_event.VK_W, keybd_event.VK_X, keybd_event.VK_Y,
	keybd_event.VK_Z,
}

var digitCodes = [10]int{
	keybd_event.VK_0, keybd_event.VK_1, keybd_event.VK_2, keybd_event.VK_3, keybd_event.VK_4,
	keybd_event.VK_5, keybd_event.VK_6, keybd_event.VK_7, keybd_event.VK_8, keybd_event.VK_9,
}

// US layout.
var symbolStrokes = map[rune]stroke{
	' ':  {keybd_event.VK_SPACE, false},
	'\n': {keybd_event.VK_ENTER, false},
	'\t': {keybd_event.VK_TAB, false},
	'-':  {keybd_event.VK_MINUS, false},
	'_':  {keybd_event.VK_MINUS, true},
	'=':  {keybd_event.VK_EQUAL, false},
	'+':  {keybd_event.VK_EQUAL, true},
	'[':  {keybd_event.VK_LEFTBRACE, false},
	'{':  {keybd_event.VK_LEFTBRACE, true},
	']':  {keybd_event.VK_RIGHTBRACE, false},
	'}':  {keybd_event.VK_RIGHTBRACE, true},
	';':  {keybd_event.VK_SEMICOLON, false},
	':':  {keybd_event.VK_SEMICOLON, true},
	'\'': {keybd_event.VK_APOSTROPHE, false},
	'"':  {keybd_event.VK_APOSTROPHE, true},
	'`':  {keybd_event.VK_GRAVE, false},
	'~':  {keybd_event.VK_GRAVE, true},
	'\\': {keybd_event.VK_BACKSLASH, false},
	'|':  {keybd_event.VK_BACKSLASH, true},
	',':  {keybd_event.VK_COMMA, false},
	'<':  {keybd_event.VK_COMMA, true},
	'.':  {keybd_event.VK_DOT, false},
	'>':  {keybd_event.VK_DOT, true},
	'/':  {keybd_event.VK_SLASH, false},
	'?':  {keybd_event.VK_SLASH, true},
	'!':  {keybd_event.VK_1, true},
	'@':  {keybd_event.VK_2, true},
	'#':  {keybd_event.VK_3, true},
	'$':  {keybd_event.VK_4, true},
	'%':  {keybd_event.VK_5, true},
	'^':  {keybd_event.VK_6, true},
	'&':  {keybd_event.VK_7, true},
	'*':  {keybd_event.VK_8, true},
	'(':  {keybd_event.VK_9, true},
	')':  {keybd_event.VK_0, true},
}

func strokeFor(r rune) (stroke, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return stroke{letterCodes[r-'a'], false}, true
	case r >= 'A' && r <= 'Z':
		return stroke{letterCodes[r-'A'], true}, true
	case r >= '0' && r <= '9':
		return stroke{digitCodes[r-'0'], false}, true
	}
	s, ok := symbolStrokes[r]
	return s, ok
}

// typeText can only reach characters on a US layout; the whole text is
// checked before anything is sent so a failure never leaves partial input.
func (b *Bonding) typeText(ctx context.Context, text string) error {
	strokes := make([]stroke, 0, len(text))
	for _, r := range text {
		s, ok := strokeFor(r)
		if !ok {
			return fmt.Errorf("%w: no key for %q", ErrUnsupported, r)
		}
		strokes = append(strokes, s)
	}
	for _, s := range strokes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.strokeLocked(false, s.shift, s.code); err != nil {
			return err
		}
	}
	return nil
}
