// Package dictation runs the push-to-talk cycle: record while the hotkey is
// held, transcribe, optionally polish, then put the text into the focused
// application.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"dictate/internal/focus"
	"dictate/internal/history"
	"dictate/internal/hotkey"
	"dictate/internal/inject"
	"dictate/internal/notify"
	"dictate/internal/record"
)

type State int

const (
	Idle State = iota
	Recording
	Processing
	Injecting
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Injecting:
		return "injecting"
	case Error:
		return "error"
	}
	return "unknown"
}

type Mode int

const (
	ModeDictation Mode = iota
	ModeCommand
)

func (m Mode) String() string {
	if m == ModeCommand {
		return "command"
	}
	return "dictation"
}

// Deps are the collaborators. Polisher, Commander, Router, Focus and History
// may be nil; the features that need them are then skipped or reported.
type Deps struct {
	Recorder    Recorder
	Transcriber Transcriber
	Polisher    Polisher
	Commander   Commander
	Router      QueryRouter
	Focus       FocusProbe
	Injector    Injector
	Notifier    notify.Notifier
	History     History
	Settings    SettingsSource
}

type Options struct {
	DictationID string
	CommandID   string
	Now         func() time.Time
}

type session struct {
	id      uint64
	mode    Mode
	hotkey  string
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	rec     Recording

	// filled in by the processing goroutine
	audio     time.Duration
	raw       string
	final     string
	strategy  string
	errKind   ErrorKind
	err       error
	cancelled atomic.Bool
}

// Orchestrator owns the state machine. Hotkey events are handled on the
// caller's goroutine; transcription and injection run on a per-session
// goroutine.
type Orchestrator struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	nextID atomic.Uint64
	wg     sync.WaitGroup

	mu    sync.Mutex
	state State
	sess  *session
}

func New(deps Deps, opts Options, log zerolog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Recorder == nil:
		return nil, errors.New("dictation: recorder is required")
	case deps.Transcriber == nil:
		return nil, errors.New("dictation: transcriber is required")
	case deps.Injector == nil:
		return nil, errors.New("dictation: injector is required")
	case deps.Settings == nil:
		return nil, errors.New("dictation: settings are required")
	case opts.DictationID == "":
		return nil, errors.New("dictation: dictation hotkey id is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Multi{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{deps: deps, opts: opts, log: log}, nil
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run handles events until ctx ends or events closes, then cancels any
// session in flight and waits for it to unwind.
func (o *Orchestrator) Run(ctx context.Context, events <-chan hotkey.Event) error {
	defer o.wait()
	for {
		select {
		case <-ctx.Done():
			o.cancelActive()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				o.cancelActive()
				return nil
			}
			o.Handle(ctx, ev)
		}
	}
}

// Level forwards a capture level for the session being recorded.
func (o *Orchestrator) Level(level float64) {
	o.mu.Lock()
	s, st := o.sess, o.state
	o.mu.Unlock()
	if st != Recording || s == nil {
		return
	}
	o.emit(notify.Event{Kind: notify.KindLevel, Session: s.id, Level: level})
}

// Handle applies one hotkey transition. ctx is the parent of any session the
// event starts.
func (o *Orchestrator) Handle(ctx context.Context, ev hotkey.Event) {
	mode, known := o.modeFor(ev.ID)
	if !known {
		return
	}
	switch ev.Kind {
	case hotkey.Pressed:
		o.onPressed(ctx, ev, mode)
	case hotkey.Released:
		o.onReleased(ev)
	}
}

func (o *Orchestrator) modeFor(id string) (Mode, bool) {
	switch id {
	case o.opts.DictationID:
		return ModeDictation, true
	case o.opts.CommandID:
		if id != "" {
			return ModeCommand, true
		}
	}
	return 0, false
}

func (o *Orchestrator) onPressed(ctx context.Context, ev hotkey.Event, mode Mode) {
	o.mu.Lock()
	if o.state != Idle {
		s, st := o.sess, o.state
		o.mu.Unlock()
		if s != nil && s.hotkey == ev.ID && (st == Processing || st == Injecting) {
			if !s.cancelled.Swap(true) {
				o.log.Info().Uint64("session", s.id).Str("state", st.String()).Msg("session cancelled by hotkey")
				s.cancel()
			}
			return
		}
		o.log.Info().Str("hotkey", ev.ID).Str("state", st.String()).Msg("hotkey ignored, session in flight")
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:      o.nextID.Add(1),
		mode:    mode,
		hotkey:  ev.ID,
		started: o.opts.Now(),
		ctx:     sctx,
		cancel:  cancel,
	}
	o.sess = s
	o.state = Recording
	o.mu.Unlock()

	cfg := o.deps.Settings.Config()
	rec, err := o.deps.Recorder.Start(sctx, cfg.InputDevice)
	if err != nil {
		o.fail(s, KindDevice, err)
		return
	}
	o.mu.Lock()
	s.rec = rec
	o.mu.Unlock()
	o.log.Info().Uint64("session", s.id).Str("mode", mode.String()).Msg("recording")
	o.emitState(s, Recording)

	o.wg.Add(1)
	go o.watch(s)
}

func (o *Orchestrator) onReleased(ev hotkey.Event) {
	o.mu.Lock()
	s := o.sess
	ok := o.state == Recording && s != nil && s.hotkey == ev.ID && s.rec != nil
	o.mu.Unlock()
	if ok {
		o.finish(s)
	}
}

// watch ends the recording when capture stops on its own (max duration or
// device loss) or the session context goes away.
func (o *Orchestrator) watch(s *session) {
	defer o.wg.Done()
	select {
	case <-s.rec.Done():
		o.finish(s)
	case <-s.ctx.Done():
		o.mu.Lock()
		stillRecording := o.sess == s && o.state == Recording
		o.mu.Unlock()
		if stillRecording {
			s.rec.Stop()
			o.toIdle(s)
		}
	}
}

// finish moves s from Recording to Processing exactly once.
func (o *Orchestrator) finish(s *session) {
	o.mu.Lock()
	if o.sess != s || o.state != Recording {
		o.mu.Unlock()
		return
	}
	o.state = Processing
	o.mu.Unlock()
	o.emitState(s, Processing)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.process(s)
	}()
}

func (o *Orchestrator) process(s *session) {
	cfg := o.deps.Settings.Config()
	buf, capErr := s.rec.Stop()
	s.audio = buf.Duration()

	switch {
	case errors.Is(capErr, record.ErrTruncatedByMaxDuration):
		o.warn(s, fmt.Sprintf("Recording reached the %s limit; using what was captured", buf.Duration().Round(time.Second)))
	case capErr != nil && buf.Empty():
		o.fail(s, KindDevice, capErr)
		return
	case capErr != nil:
		o.warn(s, "Microphone lost; using what was captured")
	}
	if buf.Empty() {
		o.warn(s, "Nothing was recorded")
		o.toIdle(s)
		return
	}

	res, err := o.deps.Transcriber.Transcribe(s.ctx, buf, cfg.Language)
	if o.abandoned(s) {
		return
	}
	if err != nil {
		o.fail(s, KindProvider, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err))
		return
	}
	s.raw = strings.TrimSpace(res.Text)
	o.log.Info().Uint64("session", s.id).Str("provider", res.Provider).Dur("elapsed", res.Elapsed).Int("chars", len(s.raw)).Msg("transcribed")
	if s.raw == "" {
		o.warn(s, "No speech recognized")
		o.toIdle(s)
		return
	}

	if s.mode == ModeCommand {
		o.command(s, cfg.MentionTrigger)
		return
	}

	text := s.raw
	var polishErr error
	if cfg.Polish && o.deps.Polisher != nil {
		out, err := o.deps.Polisher.Polish(s.ctx, s.raw, cfg.NotesMode)
		if o.abandoned(s) {
			return
		}
		if err != nil {
			polishErr = fmt.Errorf("%w: %w", ErrPolishFailed, err)
			o.log.Warn().Err(err).Uint64("session", s.id).Msg("polish failed, inserting raw transcript")
		} else {
			text = out
		}
	}
	if !o.deliver(s, text, cfg.MentionTrigger) {
		return
	}
	if polishErr != nil {
		o.fail(s, KindPolish, polishErr)
		return
	}
	o.toIdle(s)
}

// command picks what to do with the spoken instruction from what has focus.
func (o *Orchestrator) command(s *session, trigger string) {
	if o.deps.Focus == nil {
		o.fail(s, KindClipboard, errors.New("focus probe unavailable"))
		return
	}
	st, err := o.deps.Focus.Inspect(s.ctx)
	if o.abandoned(s) {
		return
	}
	if err != nil {
		o.fail(s, KindClipboard, fmt.Errorf("inspect focus: %w", err))
		return
	}
	o.log.Info().Uint64("session", s.id).Str("focus", st.Kind.String()).Msg("command target")

	if st.Kind == focus.None {
		if o.deps.Router == nil {
			o.fail(s, KindRouting, errors.New("no query router configured"))
			return
		}
		if err := o.deps.Router.Route(s.ctx, s.raw); err != nil {
			if o.abandoned(s) {
				return
			}
			o.fail(s, KindRouting, err)
			return
		}
		s.strategy = "query"
		o.emit(notify.Event{Kind: notify.KindResult, Session: s.id, Text: s.raw, Strategy: s.strategy})
		o.toIdle(s)
		return
	}

	if o.deps.Commander == nil {
		o.fail(s, KindPolish, ErrNoCommander)
		return
	}
	var out string
	if st.Kind == focus.Selection {
		out, err = o.deps.Commander.Transform(s.ctx, st.Selection, s.raw)
	} else {
		out, err = o.deps.Commander.Generate(s.ctx, s.raw)
	}
	if o.abandoned(s) {
		return
	}
	if err != nil {
		o.fail(s, KindPolish, fmt.Errorf("%w: %w", ErrPolishFailed, err))
		return
	}
	if o.deliver(s, out, trigger) {
		o.toIdle(s)
	}
}

// deliver runs the Injecting state. It reports false when the session ended
// there, by cancellation or by a fatal injection failure.
func (o *Orchestrator) deliver(s *session, text, trigger string) bool {
	o.mu.Lock()
	if o.sess != s {
		o.mu.Unlock()
		return false
	}
	o.state = Injecting
	o.mu.Unlock()
	o.emitState(s, Injecting)

	s.final = text
	res := o.deps.Injector.Inject(s.ctx, inject.Request{
		Text:     text,
		Mentions: inject.ExtractMentions(text, trigger),
		Trigger:  trigger,
	})
	if o.abandoned(s) {
		return false
	}
	if len(res.Attempts) > 0 {
		last := res.Attempts[len(res.Attempts)-1]
		o.log.Debug().Uint64("session", s.id).Int("attempts", len(res.Attempts)).Str("last_owner", last.Owner.String()).Msg("clipboard contention")
	}
	if res.Outcome == inject.Failed {
		o.fail(s, KindClipboard, res.Reason)
		return false
	}
	s.strategy = res.Outcome.String()
	o.log.Info().Uint64("session", s.id).Str("strategy", s.strategy).Msg("text delivered")
	o.emit(notify.Event{Kind: notify.KindResult, Session: s.id, Text: text, Strategy: s.strategy})
	return true
}

// abandoned reports whether s was cancelled, and if so returns it to Idle.
func (o *Orchestrator) abandoned(s *session) bool {
	if s.ctx.Err() == nil {
		return false
	}
	s.cancelled.Store(true)
	o.toIdle(s)
	return true
}

func (o *Orchestrator) warn(s *session, msg string) {
	o.log.Warn().Uint64("session", s.id).Msg(msg)
	o.emit(notify.Event{Kind: notify.KindWarning, Session: s.id, Message: msg})
}

// fail passes through Error, reports once, and lands in Idle.
func (o *Orchestrator) fail(s *session, kind ErrorKind, err error) {
	o.mu.Lock()
	if o.sess != s {
		o.mu.Unlock()
		return
	}
	o.state = Error
	o.mu.Unlock()
	s.errKind, s.err = kind, err
	o.log.Error().Err(err).Uint64("session", s.id).Str("error_kind", string(kind)).Msg("session failed")
	o.emitState(s, Error)
	o.emit(notify.Event{Kind: notify.KindError, Session: s.id, ErrorKind: string(kind), Message: kind.message(err)})
	o.toIdle(s)
}

func (o *Orchestrator) toIdle(s *session) {
	o.mu.Lock()
	if o.sess != s {
		o.mu.Unlock()
		return
	}
	o.sess = nil
	o.state = Idle
	o.mu.Unlock()
	s.cancel()
	o.record(s)
	o.emitState(s, Idle)
}

func (o *Orchestrator) cancelActive() {
	o.mu.Lock()
	s := o.sess
	o.mu.Unlock()
	if s != nil {
		s.cancelled.Store(true)
		s.cancel()
	}
}

func (o *Orchestrator) wait() { o.wg.Wait() }

func (o *Orchestrator) record(s *session) {
	if o.deps.History == nil {
		return
	}
	e := history.Entry{
		Session:   s.id,
		Mode:      s.mode.String(),
		StartedAt: s.started,
		Duration:  s.audio,
		RawText:   s.raw,
		FinalText: s.final,
		Strategy:  s.strategy,
		ErrorKind: string(s.errKind),
	}
	if s.err != nil {
		e.Error = s.err.Error()
	} else if s.cancelled.Load() {
		e.Error = context.Canceled.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.deps.History.Record(ctx, e); err != nil {
		o.log.Warn().Err(err).Uint64("session", s.id).Msg("history write failed")
	}
}

func (o *Orchestrator) emitState(s *session, st State) {
	o.emit(notify.Event{Kind: notify.KindState, Session: s.id, State: st.String()})
}

func (o *Orchestrator) emit(e notify.Event) {
	e.At = o.opts.Now()
	o.deps.Notifier.Notify(e)
}
