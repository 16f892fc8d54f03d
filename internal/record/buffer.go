package record

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Buffer is the finalized audio of one session.
type Buffer struct {
	Samples []int16
	Format  Format
}

// Duration is the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	per := b.Format.SampleRate * b.Format.Channels
	if per == 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(per)
}

// Empty reports whether nothing was captured.
func (b Buffer) Empty() bool { return len(b.Samples) == 0 }

// SaveWAV writes the buffer as a PCM WAV file.
func (b Buffer) SaveWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav failed: %w", err)
	}
	depth := b.Format.BitDepth
	if depth == 0 {
		depth = 16
	}
	enc := wav.NewEncoder(f, b.Format.SampleRate, depth, b.Format.Channels, 1)
	data := make([]int, len(b.Samples))
	for i, v := range b.Samples {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: b.Format.Channels, SampleRate: b.Format.SampleRate},
		Data:           data,
		SourceBitDepth: depth,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("wav write failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("wav close failed: %w", err)
	}
	return f.Close()
}

// LoadWAV reads a 16-bit PCM WAV file into a Buffer.
func LoadWAV(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Buffer{}, fmt.Errorf("%s is not a valid wav file", path)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("decode wav failed: %w", err)
	}
	if dec.BitDepth != 16 {
		return Buffer{}, fmt.Errorf("unsupported wav bit depth %d (want 16)", dec.BitDepth)
	}
	samples := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = int16(v)
	}
	return Buffer{
		Samples: samples,
		Format: Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		},
	}, nil
}
