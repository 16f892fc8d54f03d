package focus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dictate/internal/clipboard"
	"dictate/internal/keyboard"
)

type memClipboard struct {
	text string
	busy int
}

func (c *memClipboard) Acquire() (clipboard.Lease, error) {
	if c.busy > 0 {
		c.busy--
		return nil, &clipboard.ContentionError{}
	}
	return memLease{c}, nil
}

type memLease struct{ c *memClipboard }

func (l memLease) SetText(s string) error { l.c.text = s; return nil }
func (l memLease) Text() (string, error)  { return l.c.text, nil }
func (l memLease) Release() error         { return nil }

// app answers Ctrl+C by copying its selection, if it has one.
type app struct {
	cb        *memClipboard
	selection string
	copies    int
}

func (a *app) Paste() error { return nil }
func (a *app) Copy() error {
	a.copies++
	if a.selection != "" {
		a.cb.text = a.selection
	}
	return nil
}
func (a *app) Tap(keyboard.Key) error                 { return nil }
func (a *app) TypeText(context.Context, string) error { return nil }

func noSleep(context.Context, time.Duration) error { return nil }

func newProbe(cb *memClipboard, a *app, caret CaretFunc) *Probe {
	return New(cb, a, Options{Sleep: noSleep, Caret: caret}, zerolog.Nop())
}

func TestInspectSelection(t *testing.T) {
	cb := &memClipboard{text: "old contents"}
	a := &app{cb: cb, selection: "make this formal"}
	st, err := newProbe(cb, a, func() (bool, error) { return true, nil }).Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.Kind != Selection || st.Selection != "make this formal" {
		t.Fatalf("unexpected state %+v", st)
	}
	if a.copies != 1 {
		t.Fatalf("expected one copy chord, got %d", a.copies)
	}
}

func TestInspectCaretWithoutSelection(t *testing.T) {
	cb := &memClipboard{}
	a := &app{cb: cb}
	st, err := newProbe(cb, a, func() (bool, error) { return true, nil }).Inspect(context.Background())
	if err != nil || st.Kind != TextInput {
		t.Fatalf("got %+v, %v", st, err)
	}
	if !strings.HasPrefix(cb.text, "dictate-probe-") {
		t.Fatalf("marker not planted: %q", cb.text)
	}
}

func TestInspectNothingFocused(t *testing.T) {
	cb := &memClipboard{}
	a := &app{cb: cb}
	st, err := newProbe(cb, a, func() (bool, error) { return false, nil }).Inspect(context.Background())
	if err != nil || st.Kind != None {
		t.Fatalf("got %+v, %v", st, err)
	}
}

func TestInspectCaretErrorAssumesTextInput(t *testing.T) {
	cb := &memClipboard{}
	a := &app{cb: cb}
	st, err := newProbe(cb, a, func() (bool, error) { return false, errors.New("nope") }).Inspect(context.Background())
	if err != nil || st.Kind != TextInput {
		t.Fatalf("got %+v, %v", st, err)
	}
}

func TestInspectRetriesBusyClipboard(t *testing.T) {
	cb := &memClipboard{busy: 2}
	a := &app{cb: cb, selection: "x"}
	st, err := newProbe(cb, a, nil).Inspect(context.Background())
	if err != nil || st.Kind != Selection {
		t.Fatalf("got %+v, %v", st, err)
	}

	cb = &memClipboard{busy: 100}
	if _, err := newProbe(cb, &app{cb: cb}, nil).Inspect(context.Background()); err == nil {
		t.Fatalf("expected error when the clipboard never frees up")
	}
}
