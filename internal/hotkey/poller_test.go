package hotkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type scriptedSource struct {
	mu    sync.Mutex
	state KeyState
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (s *scriptedSource) set(mods Modifier, err error) {
	s.mu.Lock()
	s.state = KeyState{Mods: mods}
	s.err = err
	s.mu.Unlock()
}

func (s *scriptedSource) Sample([]VKey) (KeyState, error) {
	s.calls.Add(1)
	s.mu.Lock()
	block := s.block
	st, err := s.state, s.err
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return st, err
}

type collector struct {
	mu      sync.Mutex
	samples []KeyState
}

func (c *collector) add(s KeyState) {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

func (c *collector) snapshot() []KeyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]KeyState(nil), c.samples...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestPollerDeliversSamples(t *testing.T) {
	src := &scriptedSource{}
	src.set(ModCtrl|ModWin, nil)
	p := NewPoller(src, PollerOptions{Interval: 3 * time.Millisecond}, zerolog.Nop())
	var c collector
	p.Subscribe(c.add)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	waitFor(t, func() bool { return len(c.snapshot()) >= 5 })
	for _, s := range c.snapshot() {
		if s.At.IsZero() {
			t.Fatalf("sample without timestamp")
		}
	}
	last := c.snapshot()[len(c.snapshot())-1]
	if last.Mods != ModCtrl|ModWin {
		t.Fatalf("unexpected mods %v", last.Mods)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected error when starting twice")
	}
}

func TestPollerKeepsPreviousStateOnError(t *testing.T) {
	src := &scriptedSource{}
	src.set(ModAlt, nil)
	p := NewPoller(src, PollerOptions{Interval: 3 * time.Millisecond}, zerolog.Nop())
	var c collector
	p.Subscribe(c.add)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	waitFor(t, func() bool { return len(c.snapshot()) >= 2 })
	src.set(0, errors.New("transient"))
	n := len(c.snapshot())
	waitFor(t, func() bool { return len(c.snapshot()) >= n+5 })
	for _, s := range c.snapshot()[n+1:] {
		if s.Mods != ModAlt {
			t.Fatalf("expected previous state to be reused, got %v", s.Mods)
		}
	}
}

func TestPollerDoesNotWaitForStalledQuery(t *testing.T) {
	src := &scriptedSource{}
	src.set(ModShift, nil)
	p := NewPoller(src, PollerOptions{Interval: 3 * time.Millisecond}, zerolog.Nop())
	var c collector
	p.Subscribe(c.add)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(c.snapshot()) >= 2 })

	release := make(chan struct{})
	src.mu.Lock()
	src.block = release
	src.mu.Unlock()

	n := len(c.snapshot())
	waitFor(t, func() bool { return len(c.snapshot()) >= n+10 })
	if calls := src.calls.Load(); int(calls) > n+3 {
		t.Fatalf("stalled query must not be re-issued every tick, got %d calls", calls)
	}
	for _, s := range c.snapshot()[n+1:] {
		if s.Mods != ModShift {
			t.Fatalf("expected previous state while stalled, got %v", s.Mods)
		}
	}
	close(release)
	p.Stop()
	p.Stop()
}

func TestBridgeForwardsArbiterEvents(t *testing.T) {
	src := &scriptedSource{}
	src.set(ModCtrl|ModWin, nil)
	d, _ := ParseDefinition("dictation", "ctrl+win")
	arb, err := NewArbiter(ArbiterOptions{ReleaseDebounce: 10 * time.Millisecond}, d)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPoller(src, PollerOptions{Interval: 3 * time.Millisecond}, zerolog.Nop())
	b := Attach(p, arb)
	defer b.Close()
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	next := func() Event {
		select {
		case ev := <-b.Events():
			return ev
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event")
		}
		return Event{}
	}
	if ev := next(); ev.Kind != Pressed || ev.ID != "dictation" {
		t.Fatalf("unexpected first event %+v", ev)
	}
	src.set(0, nil)
	if ev := next(); ev.Kind != Released || ev.ID != "dictation" {
		t.Fatalf("unexpected second event %+v", ev)
	}
}

func TestPollerQueryTimeoutDefaults(t *testing.T) {
	cases := []struct {
		in   PollerOptions
		want time.Duration
	}{
		{PollerOptions{}, DefaultQueryTimeout},
		{PollerOptions{Interval: 30 * time.Millisecond}, DefaultQueryTimeout},
		{PollerOptions{Interval: 6 * time.Millisecond}, 4 * time.Millisecond},
		{PollerOptions{Interval: 30 * time.Millisecond, QueryTimeout: 40 * time.Millisecond}, 20 * time.Millisecond},
	}
	for _, tc := range cases {
		p := NewPoller(nil, tc.in, zerolog.Nop())
		if p.opts.QueryTimeout != tc.want {
			t.Fatalf("%+v: query timeout %v want %v", tc.in, p.opts.QueryTimeout, tc.want)
		}
	}
}
