// Package ffmpeg shells out to ffmpeg for upload transcoding and for decoding
// arbitrary input files in file mode.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no ffmpeg binary is on PATH.
var ErrNotFound = errors.New("ffmpeg not found in PATH")

// Options describes the output encoding.
type Options struct {
	Codec      string // e.g. "opus", "mp3", "pcm"
	Channels   int
	SampleRate int
	BitRate    int // kbps, only for lossy codecs
	Depth      int // bits per sample
	Binary     string
}

// PCM16 is the decode target used before transcription: mono 16 kHz s16le WAV.
var PCM16 = Options{Codec: "pcm_s16le", Channels: 1, SampleRate: 16000, Depth: 16}

// Args builds the ffmpeg argument list for one conversion.
func Args(opts Options, inPath, outPath string) ([]string, error) {
	ffCodec, codecHasBitrate := codecFor(opts.Codec)
	if ffCodec == "" {
		return nil, fmt.Errorf("unsupported codec: %s", opts.Codec)
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}
	sr := opts.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	bitrate := opts.BitRate
	if bitrate <= 0 {
		bitrate = 128
	}

	args := []string{"-hide_banner", "-y", "-i", inPath, "-ac", strconv.Itoa(channels), "-ar", strconv.Itoa(sr), "-c:a", ffCodec}
	if !strings.HasPrefix(ffCodec, "pcm_") {
		if codecHasBitrate {
			args = append(args, "-b:a", fmt.Sprintf("%dk", bitrate))
		}
		if fmtName := sampleFmt(ffCodec, opts.Depth); fmtName != "" {
			args = append(args, "-sample_fmt", fmtName)
		}
	}
	return append(args, outPath), nil
}

// Convert runs ffmpeg to transcode inPath into outPath. The process is killed
// when ctx is cancelled.
func Convert(ctx context.Context, opts Options, inPath, outPath string, log zerolog.Logger) error {
	args, err := Args(opts, inPath, outPath)
	if err != nil {
		return err
	}
	bin := opts.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	log.Debug().Strs("args", args).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %v\n%s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// sampleFmt picks a sample format the encoder accepts for the requested depth.
// Encoders with a fixed internal format get none.
func sampleFmt(ffCodec string, depth int) string {
	switch ffCodec {
	case "libopus", "libmp3lame", "libvorbis", "aac":
		return ""
	}
	switch depth {
	case 8:
		return "u8"
	case 16:
		return "s16"
	case 24, 32:
		return "s32"
	}
	return ""
}

func codecFor(key string) (string, bool) {
	k := strings.ToLower(key)
	switch k {
	case "opus", "libopus":
		return "libopus", true
	case "wavpack":
		return "wavpack", false
	case "aac":
		return "aac", true
	case "ac3":
		return "ac3", true
	case "eac3":
		return "eac3", true
	case "mp3":
		return "libmp3lame", true
	case "mp2":
		return "mp2", true
	case "flac":
		return "flac", false
	case "alac":
		return "alac", false
	case "pcm":
		return "pcm_s16le", false
	case "vorbis", "libvorbis":
		return "libvorbis", true
	case "pcm_f32le", "pcm_s16be", "pcm_s16le", "pcm_s24le", "pcm_s32le":
		return k, false
	default:
		return "", false
	}
}
