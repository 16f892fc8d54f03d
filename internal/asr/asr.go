// Package asr turns a finished recording into text through one of several
// interchangeable transcription providers.
package asr

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dictate/internal/cache"
	"dictate/internal/config"
	"dictate/internal/record"
)

// Result is one transcription.
type Result struct {
	Text     string
	Raw      []byte
	Provider string
	Elapsed  time.Duration
}

// Transcriber converts captured audio to text. Implementations must honour
// ctx cancellation promptly.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio record.Buffer, language string) (Result, error)
}

// Deps are the shared resources a provider may need.
type Deps struct {
	HTTPClient *http.Client
	Cache      *cache.Cache
	Log        zerolog.Logger
}

// Factory builds a provider from configuration.
type Factory func(cfg config.Config, deps Deps) (Transcriber, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(HTTPProviderName, NewHTTPFromConfig)
	r.Register(OpenAIProviderName, NewOpenAIFromConfig)
	r.Register(SidecarProviderName, NewSidecarFromConfig)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Create instantiates the named provider.
func (r *Registry) Create(name string, cfg config.Config, deps Deps) (Transcriber, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transcriber %q not registered (have %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(cfg, deps)
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
