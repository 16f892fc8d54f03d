package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrDeviceUnavailable      = errors.New("audio device unavailable")
	ErrDeviceLost             = errors.New("audio device lost during capture")
	ErrTruncatedByMaxDuration = errors.New("recording reached max duration")
	ErrBusy                   = errors.New("capture already active")
)

const (
	DefaultFrameDuration = 20 * time.Millisecond
	DefaultMaxDuration   = 5 * time.Minute
)

// Format describes PCM sample layout.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// TranscriptionFormat is what every downstream provider expects: mono, 16 kHz, 16-bit.
var TranscriptionFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// Stream is an open input device. Read fills buf completely or fails.
type Stream interface {
	Read(buf []int16) error
	Close() error
}

// Device opens input streams by id. An empty id selects the default input.
type Device interface {
	Open(deviceID string, f Format, framesPerBuffer int) (Stream, error)
}

// Frame is one fixed-size chunk of captured audio.
type Frame struct {
	Seq     int
	Samples []int16
	Level   float64
	Offset  time.Duration
}

// Options configures a Capture. Zero values pick the defaults.
type Options struct {
	Format        Format
	FrameDuration time.Duration
	MaxDuration   time.Duration
	// OnLevel receives the latest level. It is called from a separate goroutine
	// and may be skipped for intermediate frames.
	OnLevel func(level float64)
}

// Capture owns one input device at a time.
type Capture struct {
	dev  Device
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	active  *Session
	subs    map[int]func(Frame)
	nextSub int
}

// New creates a Capture backed by dev.
func New(dev Device, opts Options, log zerolog.Logger) *Capture {
	if opts.Format.SampleRate == 0 {
		opts.Format = TranscriptionFormat
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = DefaultFrameDuration
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	return &Capture{dev: dev, opts: opts, log: log, subs: make(map[int]func(Frame))}
}

// Subscribe registers fn for every captured frame. fn runs on the capture
// goroutine in capture order and must return quickly.
func (c *Capture) Subscribe(fn func(Frame)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Session is one capture from Start to Stop.
type Session struct {
	c      *Capture
	stream Stream
	format Format

	stopReq  chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// written by the capture goroutine only; read after done is closed
	samples []int16
	err     error

	finalOnce sync.Once
	final     Buffer
}

// Done is closed when capture ends, either by Stop or on its own
// (max duration, device loss).
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why capture ended on its own. Only meaningful after Done.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop is shorthand for the owning Capture's Stop.
func (s *Session) Stop() (Buffer, error) { return s.c.Stop(s) }

// Start opens the device and begins streaming frames.
func (c *Capture) Start(ctx context.Context, deviceID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrBusy
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := int(int64(c.opts.Format.SampleRate) * int64(c.opts.FrameDuration) / int64(time.Second))
	if frames <= 0 {
		frames = 1
	}
	stream, err := c.dev.Open(deviceID, c.opts.Format, frames)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s := &Session{
		c:       c,
		stream:  stream,
		format:  c.opts.Format,
		stopReq: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.active = s
	subs := make([]func(Frame), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	go c.run(s, frames*c.opts.Format.Channels, subs)
	c.log.Debug().Str("device", deviceID).Int("frame_samples", frames).Msg("capture started")
	return s, nil
}

// Stop ends the session, releases the device and returns everything captured.
// Calling Stop again returns the same buffer and error.
func (c *Capture) Stop(s *Session) (Buffer, error) {
	s.stopOnce.Do(func() { close(s.stopReq) })
	<-s.done
	s.finalOnce.Do(func() {
		s.final = Buffer{Samples: s.samples, Format: s.format}
		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()
		c.log.Debug().Dur("duration", s.final.Duration()).Err(s.err).Msg("capture stopped")
	})
	return s.final, s.err
}

func (c *Capture) run(s *Session, frameLen int, subs []func(Frame)) {
	levels := newLevelPump(c.opts.OnLevel)
	defer close(s.done)
	defer levels.close()
	defer func() {
		if err := s.stream.Close(); err != nil {
			c.log.Warn().Err(err).Msg("closing input stream failed")
		}
	}()

	var maxSamples int
	if c.opts.MaxDuration > 0 {
		maxSamples = int(int64(s.format.SampleRate)*int64(c.opts.MaxDuration)/int64(time.Second)) * s.format.Channels
	}
	perSecond := s.format.SampleRate * s.format.Channels

	for seq := 0; ; seq++ {
		select {
		case <-s.stopReq:
			return
		default:
		}
		frame := make([]int16, frameLen)
		if err := s.stream.Read(frame); err != nil {
			s.err = fmt.Errorf("%w: %v", ErrDeviceLost, err)
			c.log.Warn().Err(err).Int("frames", seq).Msg("input stream failed; keeping partial audio")
			return
		}
		offset := time.Duration(len(s.samples)) * time.Second / time.Duration(perSecond)
		s.samples = append(s.samples, frame...)
		lvl := Level(frame)
		f := Frame{Seq: seq, Samples: frame, Level: lvl, Offset: offset}
		for _, fn := range subs {
			fn(f)
		}
		levels.offer(lvl)
		if maxSamples > 0 && len(s.samples) >= maxSamples {
			s.err = ErrTruncatedByMaxDuration
			c.log.Warn().Dur("max", c.opts.MaxDuration).Msg("max recording duration reached")
			return
		}
	}
}
