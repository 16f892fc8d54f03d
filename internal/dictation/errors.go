package dictation

import (
	"errors"
	"fmt"

	"dictate/internal/asr"
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrPolishFailed        = errors.New("polish failed")
	ErrNoCommander         = errors.New("command mode needs an LLM polisher")
)

// ErrorKind groups failures by what the user can do about them.
type ErrorKind string

const (
	KindDevice    ErrorKind = "device"
	KindClipboard ErrorKind = "clipboard"
	KindProvider  ErrorKind = "provider"
	KindPolish    ErrorKind = "polish"
	KindRouting   ErrorKind = "routing"
)

func (k ErrorKind) message(err error) string {
	var base string
	switch k {
	case KindDevice:
		base = "Microphone problem"
	case KindClipboard:
		base = "Could not insert text"
	case KindProvider:
		base = "Transcription failed"
		switch {
		case errors.Is(err, asr.ErrTimeout):
			base += " (timed out)"
		case errors.Is(err, asr.ErrRateLimited):
			base += " (rate limited)"
		}
	case KindPolish:
		base = "Language model failed"
	case KindRouting:
		base = "Query not delivered"
	default:
		base = "Dictation failed"
	}
	if err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, err)
}
