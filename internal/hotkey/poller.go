package hotkey

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 15 * time.Millisecond
	DefaultQueryTimeout = 10 * time.Millisecond

	errorLogEvery = 5 * time.Second
)

// ErrUnsupported is returned by sources on platforms without global key state.
var ErrUnsupported = errors.New("global key state not supported on this platform")

// Source reads the current keyboard state. keys lists the non-modifier keys of interest.
type Source interface {
	Sample(keys []VKey) (KeyState, error)
}

// PollerOptions configures a Poller. Zero values pick the defaults.
type PollerOptions struct {
	Interval     time.Duration
	QueryTimeout time.Duration
	Keys         []VKey
}

type sampleResult struct {
	state KeyState
	err   error
}

// Poller samples a Source on a fixed cadence and hands every sample to its subscribers.
type Poller struct {
	src  Source
	opts PollerOptions
	log  zerolog.Logger

	mu      sync.Mutex
	subs    map[int]func(KeyState)
	nextSub int
	cancel  context.CancelFunc
	done    chan struct{}

	// owned by the loop goroutine
	last      KeyState
	inflight  chan sampleResult
	lastErrAt time.Time
}

// NewPoller creates a stopped poller.
func NewPoller(src Source, opts PollerOptions, log zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.QueryTimeout >= opts.Interval {
		opts.QueryTimeout = opts.Interval * 2 / 3
	}
	return &Poller{src: src, opts: opts, log: log, subs: make(map[int]func(KeyState))}
}

// Subscribe registers fn for every sample. fn runs on the poller goroutine and must not block.
func (p *Poller) Subscribe(fn func(KeyState)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Start begins sampling until Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("poller already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	return nil
}

// Stop halts sampling and waits for the loop to exit. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s := p.sample(now)
			s.At = now
			p.publish(s)
		}
	}
}

// sample never waits longer than QueryTimeout. A query that misses the deadline
// stays in flight and later ticks reuse the previous state until it answers.
func (p *Poller) sample(now time.Time) KeyState {
	if p.inflight == nil {
		ch := make(chan sampleResult, 1)
		p.inflight = ch
		keys := p.opts.Keys
		go func() {
			s, err := p.src.Sample(keys)
			ch <- sampleResult{state: s, err: err}
		}()
	}
	timer := time.NewTimer(p.opts.QueryTimeout)
	defer timer.Stop()
	select {
	case r := <-p.inflight:
		p.inflight = nil
		if r.err != nil {
			if now.Sub(p.lastErrAt) >= errorLogEvery {
				p.lastErrAt = now
				p.log.Warn().Err(r.err).Msg("key state query failed; keeping previous state")
			}
			return p.last
		}
		p.last = r.state
		return r.state
	case <-timer.C:
		p.log.Debug().Dur("timeout", p.opts.QueryTimeout).Msg("key state query stalled")
		return p.last
	}
}

func (p *Poller) publish(s KeyState) {
	p.mu.Lock()
	subs := make([]func(KeyState), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
