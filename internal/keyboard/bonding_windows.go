//go:build windows

package keyboard

import (
	"context"
	"fmt"
	"time"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

const deviceSettle = 0

const (
	inputKeyboard    = 1
	keyeventfKeyUp   = 0x0002
	keyeventfUnicode = 0x0004
	typeCharDelay    = 2 * time.Millisecond
)

var (
	user32        = windows.NewLazySystemDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

type keybdInput struct {
	vk        uint16
	scan      uint16
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// input mirrors INPUT; the trailing pad matches the size of the MOUSEINPUT
// arm of the union.
type input struct {
	kind uint32
	ki   keybdInput
	_    uint64
}

// typeText sends each UTF-16 unit as a KEYEVENTF_UNICODE down/up pair, so
// any character reaches the target regardless of keyboard layout.
func (b *Bonding) typeText(ctx context.Context, text string) error {
	for _, unit := range utf16.Encode([]rune(text)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if unit == '\n' {
			if err := b.strokeLocked(false, false, keyCodes[KeyEnter]); err != nil {
				return err
			}
			continue
		}
		ev := [2]input{
			{kind: inputKeyboard, ki: keybdInput{scan: unit, flags: keyeventfUnicode}},
			{kind: inputKeyboard, ki: keybdInput{scan: unit, flags: keyeventfUnicode | keyeventfKeyUp}},
		}
		n, _, err := procSendInput.Call(uintptr(len(ev)), uintptr(unsafe.Pointer(&ev[0])), unsafe.Sizeof(ev[0]))
		if n != uintptr(len(ev)) {
			return fmt.Errorf("SendInput: %w", err)
		}
		time.Sleep(typeCharDelay)
	}
	return nil
}
