package asr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"dictate/internal/audio/ffmpeg"
	"dictate/internal/cache"
	"dictate/internal/config"
	"dictate/internal/jsonpath"
	"dictate/internal/record"
)

// HTTPProviderName selects the generic multipart upload provider.
const HTTPProviderName = "http"

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	Endpoint       string
	Token          string
	Model          string
	Prompt         string
	TextPath       jsonpath.Path
	Extra          map[string]any
	MaxRetry       int
	RetryBaseDelay time.Duration
	// Transcode, when set, converts the WAV with ffmpeg before upload.
	Transcode *ffmpeg.Options
	Container string
}

// HTTPProvider uploads audio as multipart/form-data to any
// Whisper-compatible endpoint and extracts the text with a JSON path.
type HTTPProvider struct {
	opts   HTTPOptions
	client *http.Client
	cache  *cache.Cache
	log    zerolog.Logger
}

// NewHTTP creates an HTTPProvider. A nil client gets NewHTTPClient defaults.
func NewHTTP(opts HTTPOptions, client *http.Client, c *cache.Cache, log zerolog.Logger) (*HTTPProvider, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: API endpoint is empty", ErrNotConfigured)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if c == nil {
		c = cache.New("", false, log)
	}
	if opts.Container == "" {
		opts.Container = "ogg"
	}
	return &HTTPProvider{opts: opts, client: client, cache: c, log: log}, nil
}

// NewHTTPFromConfig is the registry factory for the http provider.
func NewHTTPFromConfig(cfg config.Config, deps Deps) (Transcriber, error) {
	path, err := jsonpath.Compile(cfg.TEXTPath)
	if err != nil {
		return nil, fmt.Errorf("invalid TEXT_PATH: %w", err)
	}
	opts := HTTPOptions{
		Endpoint:       cfg.APIEndpoint,
		Token:          cfg.Token,
		Model:          cfg.Model,
		Prompt:         cfg.Prompt,
		TextPath:       path,
		MaxRetry:       cfg.MaxRetry,
		RetryBaseDelay: time.Duration(cfg.RetryBaseDelay * float64(time.Second)),
		Container:      config.ContainerExt(cfg.CONTAINER),
	}
	if cfg.ExtraConfig != "" {
		opts.Extra = make(map[string]any)
		if err := json.Unmarshal([]byte(cfg.ExtraConfig), &opts.Extra); err != nil {
			return nil, fmt.Errorf("invalid extra-config JSON: %w", err)
		}
	}
	if cfg.UseFFmpeg {
		opts.Transcode = &ffmpeg.Options{
			Codec:      cfg.CODECS,
			Channels:   cfg.Channels,
			SampleRate: cfg.SAMPLING_RATE,
			BitRate:    cfg.BIT_RATE,
			Depth:      cfg.SAMPLING_RATE_DEPTH,
		}
	}
	return NewHTTP(opts, deps.HTTPClient, deps.Cache, deps.Log)
}

// NewHTTPClient builds the shared client used for uploads.
func NewHTTPClient(cfg config.Config) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if !cfg.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.EnableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	return &http.Client{
		Transport: tr,
		Timeout:   time.Duration(cfg.RequestTimeout) * time.Second,
	}
}

// Name implements Transcriber.
func (p *HTTPProvider) Name() string { return HTTPProviderName }

// Transcribe implements Transcriber.
func (p *HTTPProvider) Transcribe(ctx context.Context, audio record.Buffer, language string) (Result, error) {
	start := time.Now()
	wavPath := p.cache.TempPath("wav")
	if err := audio.SaveWAV(wavPath); err != nil {
		return Result{}, err
	}
	files := []string{wavPath}
	uploadPath := wavPath
	if p.opts.Transcode != nil {
		out := p.cache.TempPath(p.opts.Container)
		files = append(files, out)
		if err := ffmpeg.Convert(ctx, *p.opts.Transcode, wavPath, out, p.log); err != nil {
			p.cache.Finish(files, nil, false)
			return Result{}, fmt.Errorf("transcode before upload: %w", err)
		}
		uploadPath = out
	}

	raw, err := p.TranscribeFile(ctx, uploadPath, language)
	p.cache.Finish(files, raw, err == nil)
	if err != nil {
		return Result{Raw: raw, Provider: HTTPProviderName}, err
	}
	text, err := jsonpath.ExtractText(raw, p.opts.TextPath)
	if err != nil && !errors.Is(err, jsonpath.ErrNoText) {
		return Result{Raw: raw, Provider: HTTPProviderName}, &ProviderError{Provider: HTTPProviderName, Body: formatResponse(raw), Err: err}
	}
	return Result{Text: strings.TrimSpace(text), Raw: raw, Provider: HTTPProviderName, Elapsed: time.Since(start)}, nil
}

// TranscribeFile uploads an existing file with retries and returns the raw
// response body of the successful attempt.
func (p *HTTPProvider) TranscribeFile(ctx context.Context, path, language string) ([]byte, error) {
	maxTries := p.opts.MaxRetry
	if maxTries < 1 {
		maxTries = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.opts.RetryBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
	}

	attempts := 0
	permanent := false
	var lastBody []byte
	op := func() ([]byte, error) {
		attempts++
		body, err := p.upload(ctx, path, language)
		lastBody = body
		if err == nil {
			return body, nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return nil, err
		}
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Status >= 400 && pe.Status < 500 && pe.Status != http.StatusRequestTimeout && pe.Status != http.StatusTooManyRequests {
			permanent = true
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, next time.Duration) {
		p.log.Debug().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("upload attempt failed")
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
			return lastBody, err
		}
		return lastBody, classifyTransport(ctx, err)
	}
	if permanent {
		return lastBody, err
	}
	return lastBody, &RetryExhaustedError{Attempts: attempts, MaxRetry: p.opts.MaxRetry, Last: err}
}

func (p *HTTPProvider) upload(ctx context.Context, filePath, language string) ([]byte, error) {
	p.log.Debug().Str("file", filePath).Str("endpoint", p.opts.Endpoint).Msg("uploading")
	f, err := os.Open(filePath)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("open upload file: %w", err))
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	for k, v := range p.formFields(language) {
		if err := writer.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if p.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.Token)
	}
	req.Header.Set("User-Agent", "dictate/1.0")

	start := time.Now()
	resp, err := p.client.Do(req)
	p.log.Debug().Dur("elapsed", time.Since(start)).Msg("request finished")
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	pe := &ProviderError{Provider: HTTPProviderName, Status: resp.StatusCode, Body: formatResponse(respBody)}
	p.log.Debug().Int("status", resp.StatusCode).Str("body", pe.Body).Msg("upload rejected")
	if resp.StatusCode == http.StatusTooManyRequests {
		pe.Err = ErrRateLimited
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return respBody, errors.Join(pe, backoff.RetryAfter(secs))
		}
	}
	return respBody, pe
}

// formFields merges model, language, prompt and extra config into string
// form values. Extra config wins over the built-in fields.
func (p *HTTPProvider) formFields(language string) map[string]string {
	base := make(map[string]any)
	if p.opts.Model != "" {
		base["model"] = p.opts.Model
	}
	if language != "" {
		base["language"] = language
	}
	if p.opts.Prompt != "" {
		base["prompt"] = p.opts.Prompt
	}
	for k, v := range p.opts.Extra {
		base[k] = v
	}
	out := make(map[string]string, len(base))
	for k, v := range base {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool, float64, int:
			out[k] = fmt.Sprintf("%v", val)
		default:
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			} else {
				out[k] = fmt.Sprintf("%v", val)
			}
		}
	}
	return out
}
