package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"dictate/internal/config"
	"dictate/internal/hotkey"
	"dictate/internal/record"
)

func writeTestWAV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "memo.wav")
	buf := record.Buffer{Samples: make([]int16, 16000), Format: record.TranscriptionFormat}
	if err := buf.SaveWAV(path); err != nil {
		t.Fatalf("SaveWAV: %v", err)
	}
	return path
}

func fileModeConfig(t *testing.T, endpoint string) config.Config {
	cfg := config.DefaultConfig()
	cfg.APIEndpoint = endpoint
	cfg.CacheDir = t.TempDir()
	cfg.MaxRetry = 1
	cfg.RetryBaseDelay = 0
	return cfg
}

func TestRunFileModeWritesTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"meeting notes for tuesday"}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	in := writeTestWAV(t, dir)
	if err := RunFileMode(context.Background(), fileModeConfig(t, server.URL), in, "", zerolog.Nop()); err != nil {
		t.Fatalf("RunFileMode: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "memo.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "meeting notes for tuesday" {
		t.Fatalf("transcript %q", got)
	}
}

func TestRunFileModeExplicitOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	in := writeTestWAV(t, dir)
	out := filepath.Join(dir, "out", "result.txt")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := RunFileMode(context.Background(), fileModeConfig(t, server.URL), in, out, zerolog.Nop()); err != nil {
		t.Fatalf("RunFileMode: %v", err)
	}
	if b, _ := os.ReadFile(out); string(b) != "ok" {
		t.Fatalf("transcript %q", b)
	}
}

func TestRunFileModeErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := fileModeConfig(t, server.URL)
	err := RunFileMode(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.wav"), "", zerolog.Nop())
	if !errors.Is(err, ErrConvert) {
		t.Fatalf("missing input: expected ErrConvert, got %v", err)
	}

	in := writeTestWAV(t, t.TempDir())
	err = RunFileMode(context.Background(), cfg, in, "", zerolog.Nop())
	if !errors.Is(err, ErrTranscribe) {
		t.Fatalf("provider failure: expected ErrTranscribe, got %v", err)
	}
}

func TestHotkeyDefinitions(t *testing.T) {
	cfg := config.DefaultConfig()
	defs, err := hotkeyDefinitions(cfg)
	if err != nil {
		t.Fatalf("hotkeyDefinitions: %v", err)
	}
	if len(defs) != 2 || defs[0].ID != DictationHotkey || defs[1].ID != CommandHotkey {
		t.Fatalf("unexpected defs %+v", defs)
	}
	if !defs[1].Covers(defs[0]) {
		t.Fatalf("command hotkey should cover the dictation hotkey")
	}
	if _, err := hotkey.NewArbiter(hotkey.ArbiterOptions{}, defs...); err != nil {
		t.Fatalf("arbiter rejects defaults: %v", err)
	}

	cfg.CommandKey = ""
	defs, err = hotkeyDefinitions(cfg)
	if err != nil || len(defs) != 1 {
		t.Fatalf("command key disabled: %+v, %v", defs, err)
	}

	cfg.DictationKey = "ctrl+nosuchkey"
	if _, err := hotkeyDefinitions(cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}
