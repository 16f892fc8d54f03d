// Package inject delivers text into the focused application through the
// clipboard and a synthetic paste, falling back to synthetic typing when the
// clipboard cannot be obtained.
package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"dictate/internal/clipboard"
	"dictate/internal/keyboard"
)

var (
	// ErrClipboardExhausted means every acquisition attempt was refused.
	ErrClipboardExhausted = errors.New("clipboard acquisition exhausted")
	// ErrInjectionFailed means neither the clipboard nor typing delivered the text.
	ErrInjectionFailed = errors.New("text injection failed")
)

type Outcome int

const (
	Success Outcome = iota
	SucceededViaFallback
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "clipboard"
	case SucceededViaFallback:
		return "typing"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Request struct {
	Text string
	// Mentions are tokens in Text that follow Trigger and should be
	// confirmed with the accept key after being pasted.
	Mentions []string
	// Trigger overrides Options.Trigger when set.
	Trigger string
}

// Attempt records one refused clipboard acquisition.
type Attempt struct {
	N     int
	Delay time.Duration
	Owner clipboard.Owner
	Err   error
}

type Result struct {
	Outcome  Outcome
	Reason   error
	Attempts []Attempt
	Segments int
}

type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DefendWindow   time.Duration
	AcceptKey      keyboard.Key
	Trigger        string
	// Sleep waits between attempts and during the defend window.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:    9,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     400 * time.Millisecond,
		DefendWindow:   100 * time.Millisecond,
		AcceptKey:      keyboard.KeyTab,
		Trigger:        DefaultTrigger,
		Sleep:          sleepCtx,
	}
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

type Injector struct {
	cb   clipboard.Clipboard
	kb   keyboard.Keyboard
	opts Options
	log  zerolog.Logger
}

func New(cb clipboard.Clipboard, kb keyboard.Keyboard, opts Options, log zerolog.Logger) *Injector {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.AcceptKey == 0 {
		opts.AcceptKey = def.AcceptKey
	}
	if opts.Sleep == nil {
		opts.Sleep = def.Sleep
	}
	return &Injector{cb: cb, kb: kb, opts: opts, log: log}
}

// Inject pastes req.Text segment by segment. Once the clipboard is exhausted
// the remaining segments are typed instead.
func (in *Injector) Inject(ctx context.Context, req Request) Result {
	trigger := req.Trigger
	if trigger == "" {
		trigger = in.opts.Trigger
	}
	segs := segments(req.Text, trigger, req.Mentions)
	res := Result{Outcome: Success, Segments: len(segs)}

	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			res.Outcome, res.Reason = Failed, err
			return res
		}
		pasted, err := in.pasteSegment(ctx, seg, &res)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			res.Outcome, res.Reason = Failed, ctx.Err()
			return res
		}
		rest := segs[i:]
		if pasted {
			// the text is already in the target; only the accept key is owed
			rest = append([]segment{{accept: true}}, segs[i+1:]...)
		}
		in.log.Warn().Err(err).Int("segment", i).Bool("pasted", pasted).Msg("clipboard path failed, typing instead")
		if terr := in.typeSegments(ctx, rest); terr != nil {
			res.Outcome = Failed
			res.Reason = fmt.Errorf("%w: %w; typing: %w", ErrInjectionFailed, err, terr)
			return res
		}
		res.Outcome = SucceededViaFallback
		return res
	}
	return res
}

// pasteSegment reports whether seg.text reached the target, so a later
// failure does not deliver it twice.
func (in *Injector) pasteSegment(ctx context.Context, seg segment, res *Result) (bool, error) {
	lease, err := in.acquire(ctx, res)
	if err != nil {
		return false, err
	}
	if err := lease.SetText(seg.text); err != nil {
		lease.Release()
		return false, fmt.Errorf("write clipboard: %w", err)
	}
	if err := lease.Release(); err != nil {
		return false, fmt.Errorf("release clipboard: %w", err)
	}
	if err := in.kb.Paste(); err != nil {
		return false, fmt.Errorf("paste: %w", err)
	}
	in.defend(ctx)
	if seg.accept {
		if err := in.kb.Tap(in.opts.AcceptKey); err != nil {
			return true, fmt.Errorf("accept key: %w", err)
		}
	}
	return true, nil
}

// acquire retries with exponential backoff and no jitter. Every refusal is
// appended to res.Attempts.
func (in *Injector) acquire(ctx context.Context, res *Result) (clipboard.Lease, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     in.opts.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         in.opts.MaxBackoff,
	}
	b.Reset()
	var last error
	n := 0
	for n < in.opts.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n++
		lease, err := in.cb.Acquire()
		if err == nil {
			return lease, nil
		}
		last = err
		a := Attempt{N: n, Err: err}
		var ce *clipboard.ContentionError
		if errors.As(err, &ce) {
			a.Owner = ce.Owner
		}
		if ce == nil || n == in.opts.MaxAttempts {
			res.Attempts = append(res.Attempts, a)
			if ce == nil {
				break
			}
			continue
		}
		a.Delay = b.NextBackOff()
		res.Attempts = append(res.Attempts, a)
		in.log.Debug().Int("attempt", n).Str("owner", a.Owner.String()).Dur("delay", a.Delay).Msg("clipboard busy")
		if err := in.opts.Sleep(ctx, a.Delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrClipboardExhausted, n, last)
}

// defend holds the clipboard briefly after the paste so another process
// cannot replace the contents before the target reads them.
func (in *Injector) defend(ctx context.Context) {
	if in.opts.DefendWindow <= 0 {
		return
	}
	lease, err := in.cb.Acquire()
	if err != nil {
		in.log.Debug().Err(err).Msg("defend window skipped")
		return
	}
	if err := in.opts.Sleep(ctx, in.opts.DefendWindow); err != nil {
		in.log.Debug().Err(err).Msg("defend window cut short")
	}
	if err := lease.Release(); err != nil {
		in.log.Warn().Err(err).Msg("release after defend window")
	}
}

func (in *Injector) typeSegments(ctx context.Context, segs []segment) error {
	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if seg.text != "" {
			if err := in.kb.TypeText(ctx, seg.text); err != nil {
				return err
			}
		}
		if seg.accept {
			if err := in.kb.Tap(in.opts.AcceptKey); err != nil {
				return err
			}
		}
	}
	return nil
}
