package asr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"dictate/internal/cache"
	"dictate/internal/config"
	"dictate/internal/record"
)

// OpenAIProviderName selects the OpenAI audio transcription API.
const OpenAIProviderName = "openai"

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	Prompt   string
	MaxRetry int
}

// OpenAIProvider transcribes through the official OpenAI SDK.
type OpenAIProvider struct {
	client openai.Client
	opts   OpenAIOptions
	cache  *cache.Cache
	log    zerolog.Logger
}

// NewOpenAI creates an OpenAIProvider.
func NewOpenAI(opts OpenAIOptions, httpClient *http.Client, c *cache.Cache, log zerolog.Logger) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is empty", ErrNotConfigured)
	}
	if opts.Model == "" {
		opts.Model = openai.AudioModelWhisper1
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetry),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(httpClient))
	}
	if c == nil {
		c = cache.New("", false, log)
	}
	return &OpenAIProvider{client: openai.NewClient(reqOpts...), opts: opts, cache: c, log: log}, nil
}

// NewOpenAIFromConfig is the registry factory for the openai provider.
func NewOpenAIFromConfig(cfg config.Config, deps Deps) (Transcriber, error) {
	return NewOpenAI(OpenAIOptions{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.OpenAITranscribeModel,
		Prompt:   cfg.Prompt,
		MaxRetry: cfg.MaxRetry,
	}, deps.HTTPClient, deps.Cache, deps.Log)
}

// Name implements Transcriber.
func (p *OpenAIProvider) Name() string { return OpenAIProviderName }

// Transcribe implements Transcriber.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio record.Buffer, language string) (Result, error) {
	start := time.Now()
	wavPath := p.cache.TempPath("wav")
	if err := audio.SaveWAV(wavPath); err != nil {
		return Result{}, err
	}
	f, err := os.Open(wavPath)
	if err != nil {
		p.cache.Finish([]string{wavPath}, nil, false)
		return Result{}, err
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(f, "audio.wav", "audio/wav"),
		Model: p.opts.Model,
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	if p.opts.Prompt != "" {
		params.Prompt = openai.String(p.opts.Prompt)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	_ = f.Close()
	if err != nil {
		p.cache.Finish([]string{wavPath}, nil, false)
		return Result{Provider: OpenAIProviderName}, p.mapError(ctx, err)
	}
	raw := []byte(res.RawJSON())
	p.cache.Finish([]string{wavPath}, raw, true)
	p.log.Debug().Dur("elapsed", time.Since(start)).Int("chars", len(res.Text)).Msg("openai transcription done")
	return Result{Text: strings.TrimSpace(res.Text), Raw: raw, Provider: OpenAIProviderName, Elapsed: time.Since(start)}, nil
}

func (p *OpenAIProvider) mapError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := &ProviderError{Provider: OpenAIProviderName, Status: apiErr.StatusCode, Body: apiErr.Message}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			pe.Err = ErrRateLimited
		}
		return pe
	}
	return classifyTransport(ctx, err)
}
