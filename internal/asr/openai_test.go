package asr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dictate/internal/cache"
	"dictate/internal/config"
)

func TestOpenAITranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello there"}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = server.URL + "/v1/"
	cfg.MaxRetry = 0
	tr, err := NewOpenAIFromConfig(cfg, Deps{Cache: cache.New(t.TempDir(), false, zerolog.Nop()), Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), testBuffer(), "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "hello there" || res.Provider != OpenAIProviderName {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOpenAIRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	tr, err := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: server.URL + "/v1/"}, nil, cache.New(t.TempDir(), false, zerolog.Nop()), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_, err = tr.Transcribe(context.Background(), testBuffer(), "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != http.StatusTooManyRequests {
		t.Fatalf("expected provider error with status, got %v", err)
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIOptions{}, nil, nil, zerolog.Nop()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
