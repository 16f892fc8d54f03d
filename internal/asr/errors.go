package asr

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"unicode/utf8"
)

var (
	// ErrTimeout means the provider did not answer in time.
	ErrTimeout = errors.New("transcription timed out")
	// ErrRateLimited means the provider asked us to slow down.
	ErrRateLimited = errors.New("transcription rate limited")
	// ErrNotConfigured means required provider settings are missing.
	ErrNotConfigured = errors.New("transcription provider not configured")
)

// ProviderError is a failure reported by the remote side.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + " error"
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned once every attempt failed.
type RetryExhaustedError struct {
	Attempts int
	MaxRetry int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("exceeded max retries (%d/%d): %v", e.Attempts, e.MaxRetry, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// classifyTransport maps client-side request failures onto the taxonomy.
func classifyTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// formatResponse renders a response body for logs, truncating large or binary payloads.
func formatResponse(b []byte) string {
	if len(b) == 0 {
		return "<empty>"
	}
	const maxText = 1000
	const maxBin = 256

	if utf8.Valid(b) {
		s := string(b)
		if len(s) > maxText {
			return fmt.Sprintf("%s... (truncated, total %d bytes)", s[:maxText], len(b))
		}
		return s
	}
	if len(b) > maxBin {
		return fmt.Sprintf("<binary %d bytes, prefix hex: %s...>", len(b), hex.EncodeToString(b[:maxBin]))
	}
	return fmt.Sprintf("<binary %d bytes, hex: %s>", len(b), hex.EncodeToString(b))
}
