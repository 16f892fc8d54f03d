//go:build windows || linux

package keyboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
	"github.com/rs/zerolog"
)

// Bonding drives keybd_event. Calls are serialized so chords from different
// goroutines never interleave.
type Bonding struct {
	mu   sync.Mutex
	kb   keybd_event.KeyBonding
	hold time.Duration
	log  zerolog.Logger
}

var keyCodes = map[Key]int{
	KeyTab:    keybd_event.VK_TAB,
	KeyEnter:  keybd_event.VK_ENTER,
	KeyEscape: keybd_event.VK_ESC,
}

// New prepares the virtual keyboard. On Linux this creates a uinput device,
// which needs a moment before the desktop accepts events from it.
func New(log zerolog.Logger) (*Bonding, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("keyboard init: %w", err)
	}
	if deviceSettle > 0 {
		time.Sleep(deviceSettle)
	}
	return &Bonding{kb: kb, hold: 10 * time.Millisecond, log: log}, nil
}

func (b *Bonding) Paste() error { return b.chord(true, keybd_event.VK_V) }

func (b *Bonding) Copy() error { return b.chord(true, keybd_event.VK_C) }

func (b *Bonding) Tap(k Key) error {
	code, ok := keyCodes[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, k)
	}
	return b.chord(false, code)
}

func (b *Bonding) TypeText(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typeText(ctx, text)
}

// chord presses ctrl (optionally) then key, and releases key before ctrl.
// keybd_event's own Release lifts modifiers first, so the two releases are
// issued separately.
func (b *Bonding) chord(ctrl bool, key int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strokeLocked(ctrl, false, key)
}

func (b *Bonding) strokeLocked(ctrl, shift bool, key int) error {
	b.kb.Clear()
	b.kb.HasCTRL(ctrl)
	b.kb.HasSHIFT(shift)
	b.kb.SetKeys(key)
	if err := b.kb.Press(); err != nil {
		return fmt.Errorf("key down: %w", err)
	}
	time.Sleep(b.hold)

	b.kb.Clear()
	b.kb.HasCTRL(false)
	b.kb.HasSHIFT(false)
	b.kb.SetKeys(key)
	keyErr := b.kb.Release()

	if ctrl || shift {
		b.kb.Clear()
		b.kb.HasCTRL(ctrl)
		b.kb.HasSHIFT(shift)
		if err := b.kb.Release(); err != nil && keyErr == nil {
			keyErr = err
		}
	}
	if keyErr != nil {
		return fmt.Errorf("key up: %w", keyErr)
	}
	b.log.Debug().Int("key", key).Bool("ctrl", ctrl).Bool("shift", shift).Msg("keystroke sent")
	return nil
}
