package record

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStream struct {
	mu     sync.Mutex
	reads  int
	failAt int
	value  int16
	closed atomic.Bool
}

func (s *fakeStream) Read(buf []int16) error {
	time.Sleep(200 * time.Microsecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failAt > 0 && s.reads >= s.failAt {
		return errors.New("device unplugged")
	}
	for i := range buf {
		buf[i] = s.value
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
	opened  atomic.Int32
}

func (d *fakeDevice) Open(string, Format, int) (Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened.Add(1)
	return d.stream, nil
}

func TestStartFailsWithDeviceUnavailable(t *testing.T) {
	c := New(&fakeDevice{openErr: errors.New("no such device")}, Options{}, zerolog.Nop())
	_, err := c.Start(context.Background(), "usb mic")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	st := &fakeStream{value: 1000}
	c := New(&fakeDevice{stream: st}, Options{}, zerolog.Nop())
	s, err := c.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	first, err := c.Stop(s)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	second, err := c.Stop(s)
	if err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if len(first.Samples) == 0 {
		t.Fatalf("expected captured samples")
	}
	if len(first.Samples) != len(second.Samples) || &first.Samples[0] != &second.Samples[0] {
		t.Fatalf("second Stop must return the same buffer")
	}
	if !st.closed.Load() {
		t.Fatalf("device must be released after Stop")
	}
	if len(first.Samples)%320 != 0 {
		t.Fatalf("buffer must hold whole 20ms frames, got %d samples", len(first.Samples))
	}
}

func TestOnlyOneSessionAtATime(t *testing.T) {
	c := New(&fakeDevice{stream: &fakeStream{}}, Options{}, zerolog.Nop())
	s, err := c.Start(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(context.Background(), ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	s2, err := c.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start after Stop failed: %v", err)
	}
	_, _ = s2.Stop()
}

func TestMaxDurationTruncates(t *testing.T) {
	c := New(&fakeDevice{stream: &fakeStream{}}, Options{MaxDuration: 100 * time.Millisecond}, zerolog.Nop())
	s, err := c.Start(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("capture did not stop at max duration")
	}
	if !errors.Is(s.Err(), ErrTruncatedByMaxDuration) {
		t.Fatalf("expected truncation, got %v", s.Err())
	}
	buf, err := s.Stop()
	if !errors.Is(err, ErrTruncatedByMaxDuration) {
		t.Fatalf("Stop should report truncation, got %v", err)
	}
	if buf.Duration() != 100*time.Millisecond {
		t.Fatalf("expected 100ms of audio, got %v", buf.Duration())
	}
}

func TestDeviceLostKeepsPartialAudio(t *testing.T) {
	c := New(&fakeDevice{stream: &fakeStream{failAt: 4}}, Options{}, zerolog.Nop())
	s, err := c.Start(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	<-s.Done()
	buf, err := s.Stop()
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected ErrDeviceLost, got %v", err)
	}
	if buf.Duration() != 60*time.Millisecond {
		t.Fatalf("expected 3 frames of partial audio, got %v", buf.Duration())
	}
}

func TestFramesDeliveredInOrder(t *testing.T) {
	var levels atomic.Int32
	c := New(&fakeDevice{stream: &fakeStream{value: 16000}}, Options{
		OnLevel: func(float64) { levels.Add(1) },
	}, zerolog.Nop())
	var mu sync.Mutex
	var seqs []int
	unsub := c.Subscribe(func(f Frame) {
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
		if f.Level <= 0 {
			t.Errorf("expected positive level")
		}
	})
	defer unsub()

	s, err := c.Start(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(15 * time.Millisecond)
	buf, _ := s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seqs)*320 != len(buf.Samples) {
		t.Fatalf("every frame must be delivered: %d frames for %d samples", len(seqs), len(buf.Samples))
	}
	for i, seq := range seqs {
		if seq != i {
			t.Fatalf("frame %d delivered out of order (seq %d)", i, seq)
		}
	}
	if levels.Load() == 0 {
		t.Fatalf("expected level updates")
	}
}

func TestLevel(t *testing.T) {
	if Level(nil) != 0 || Level(make([]int16, 100)) != 0 {
		t.Fatalf("silence must be level 0")
	}
	loud := make([]int16, 100)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 32767
		} else {
			loud[i] = -32768
		}
	}
	if l := Level(loud); l < 0.99 || l > 1 {
		t.Fatalf("full scale must be ~1, got %v", l)
	}
	quiet := []int16{33, -33, 33, -33}
	if l := Level(quiet); l <= 0 || l >= 0.5 {
		t.Fatalf("quiet signal level out of range: %v", l)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	buf := Buffer{Samples: []int16{0, 100, -100, 32767, -32768, 7}, Format: TranscriptionFormat}
	path := filepath.Join(t.TempDir(), "x.wav")
	if err := buf.SaveWAV(path); err != nil {
		t.Fatalf("SaveWAV failed: %v", err)
	}
	got, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV failed: %v", err)
	}
	if got.Format.SampleRate != 16000 || got.Format.Channels != 1 {
		t.Fatalf("unexpected format %+v", got.Format)
	}
	if len(got.Samples) != len(buf.Samples) {
		t.Fatalf("sample count mismatch: %d vs %d", len(got.Samples), len(buf.Samples))
	}
	for i := range buf.Samples {
		if got.Samples[i] != buf.Samples[i] {
			t.Fatalf("sample %d: got %d want %d", i, got.Samples[i], buf.Samples[i])
		}
	}
}
