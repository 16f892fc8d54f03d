package asr

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dictate/internal/cache"
)

// TestSidecarHelperProcess is not a real test. It plays the transcription
// server when the test binary is re-executed by helperSidecar.
func TestSidecarHelperProcess(t *testing.T) {
	mode := os.Getenv("DICTATE_SIDECAR_HELPER")
	if mode == "" {
		return
	}
	defer os.Exit(0)
	out := json.NewEncoder(os.Stdout)
	if mode == "broken" {
		_ = out.Encode(map[string]any{"success": false, "error": "faster-whisper not installed"})
		return
	}
	_ = out.Encode(map[string]any{"ready": true, "version": "1.0"})
	loaded := false
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		var req map[string]any
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			_ = out.Encode(map[string]any{"success": false, "error": "Invalid JSON"})
			continue
		}
		switch req["command"] {
		case "load":
			loaded = req["model_size"] == "tiny"
			_ = out.Encode(map[string]any{"success": loaded, "model": req["model_size"], "error": "unknown model"})
		case "ping":
			_ = out.Encode(map[string]any{"success": true, "pong": true})
		case "transcribe":
			path, _ := req["audio_path"].(string)
			if mode == "slow" {
				time.Sleep(10 * time.Second)
			}
			if _, err := os.Stat(path); err != nil {
				_ = out.Encode(map[string]any{"success": false, "error": fmt.Sprintf("Audio file not found: %s", path)})
				continue
			}
			_ = out.Encode(map[string]any{"success": true, "text": " transcribed " + fmt.Sprint(req["language"]) + " ", "duration": 0.25, "language": req["language"]})
		case "quit":
			_ = out.Encode(map[string]any{"success": true, "goodbye": true})
			return
		}
	}
}

func helperSidecar(t *testing.T, mode, model string) *Sidecar {
	t.Helper()
	s, err := NewSidecar(SidecarOptions{
		Command:      []string{os.Args[0], "-test.run=^TestSidecarHelperProcess$"},
		Env:          []string{"DICTATE_SIDECAR_HELPER=" + mode},
		Model:        model,
		StartTimeout: 10 * time.Second,
	}, cache.New(t.TempDir(), false, zerolog.Nop()), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSidecarTranscribe(t *testing.T) {
	s := helperSidecar(t, "ok", "tiny")
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	res, err := s.Transcribe(context.Background(), testBuffer(), "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "transcribed en" || res.Provider != SidecarProviderName {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := s.Transcribe(context.Background(), testBuffer(), "de"); err != nil {
		t.Fatalf("second Transcribe failed: %v", err)
	}
}

func TestSidecarModelLoadFailure(t *testing.T) {
	s := helperSidecar(t, "ok", "enormous")
	err := s.Ping(context.Background())
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestSidecarNotReady(t *testing.T) {
	s := helperSidecar(t, "broken", "tiny")
	err := s.Ping(context.Background())
	if !errors.Is(err, ErrSidecarExited) {
		t.Fatalf("expected ErrSidecarExited, got %v", err)
	}
}

func TestSidecarCancelRestartsProcess(t *testing.T) {
	s := helperSidecar(t, "slow", "tiny")
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Transcribe(ctx, testBuffer(), "en")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancellation was not prompt")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("sidecar not restarted after cancel: %v", err)
	}
}

func TestSidecarRequiresCommand(t *testing.T) {
	if _, err := NewSidecar(SidecarOptions{}, nil, zerolog.Nop()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
