// Package focus decides what command mode should act on: a selection in the
// focused application, an insertion point, or nothing.
package focus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dictate/internal/clipboard"
	"dictate/internal/keyboard"
)

type Kind int

const (
	None Kind = iota
	TextInput
	Selection
)

func (k Kind) String() string {
	switch k {
	case TextInput:
		return "text_input"
	case Selection:
		return "selection"
	}
	return "none"
}

type State struct {
	Kind      Kind
	Selection string
}

// CaretFunc reports whether the foreground window shows a text caret.
type CaretFunc func() (bool, error)

type Options struct {
	// CopyWait is how long the focused application gets to answer Ctrl+C.
	CopyWait time.Duration
	// Attempts bounds clipboard acquisition for each probe step.
	Attempts int
	Sleep    func(ctx context.Context, d time.Duration) error
	Caret    CaretFunc
}

type Probe struct {
	cb   clipboard.Clipboard
	kb   keyboard.Keyboard
	opts Options
	log  zerolog.Logger
}

func New(cb clipboard.Clipboard, kb keyboard.Keyboard, opts Options, log zerolog.Logger) *Probe {
	if opts.CopyWait <= 0 {
		opts.CopyWait = 150 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Caret == nil {
		opts.Caret = SystemCaret
	}
	return &Probe{cb: cb, kb: kb, opts: opts, log: log}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Inspect plants a unique marker on the clipboard, sends Ctrl+C and checks
// whether the marker was replaced. A replaced marker is the selection.
// Without one, the caret decides between TextInput and None.
func (p *Probe) Inspect(ctx context.Context) (State, error) {
	marker := "dictate-probe-" + uuid.NewString()
	if err := p.withLease(ctx, func(l clipboard.Lease) error { return l.SetText(marker) }); err != nil {
		return State{}, fmt.Errorf("plant marker: %w", err)
	}
	if err := p.kb.Copy(); err != nil {
		return State{}, fmt.Errorf("copy selection: %w", err)
	}
	if err := p.opts.Sleep(ctx, p.opts.CopyWait); err != nil {
		return State{}, err
	}
	var got string
	if err := p.withLease(ctx, func(l clipboard.Lease) error {
		var err error
		got, err = l.Text()
		return err
	}); err != nil {
		return State{}, fmt.Errorf("read selection: %w", err)
	}
	if got != marker && got != "" {
		return State{Kind: Selection, Selection: got}, nil
	}

	caret, err := p.opts.Caret()
	if err != nil {
		p.log.Debug().Err(err).Msg("caret query failed, assuming text input")
		return State{Kind: TextInput}, nil
	}
	if caret {
		return State{Kind: TextInput}, nil
	}
	return State{Kind: None}, nil
}

func (p *Probe) withLease(ctx context.Context, fn func(clipboard.Lease) error) error {
	var last error
	for i := 0; i < p.opts.Attempts; i++ {
		l, err := p.cb.Acquire()
		if err == nil {
			ferr := fn(l)
			if rerr := l.Release(); ferr == nil {
				ferr = rerr
			}
			return ferr
		}
		last = err
		var ce *clipboard.ContentionError
		if !errors.As(err, &ce) {
			return err
		}
		if err := p.opts.Sleep(ctx, time.Duration(i+1)*20*time.Millisecond); err != nil {
			return err
		}
	}
	return last
}
