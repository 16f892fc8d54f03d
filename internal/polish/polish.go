// Package polish cleans up dictated text and runs command-mode edits through
// a chat LLM.
package polish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"dictate/internal/config"
)

// ErrEmptyResponse means the model answered with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Completer runs one system+user exchange and returns the reply text.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

const (
	polishPrompt = `You clean up dictated speech. Fix punctuation, capitalization and obvious
transcription errors. Remove filler words and false starts. Keep the speaker's wording,
language and meaning. Do not add content. Reply with the cleaned text only.`

	notesPrompt = `You turn dictated speech into concise notes. Use short bullet points
starting with "- ", one idea per bullet, in the speaker's language. Do not add content.
Reply with the notes only.`

	transformPrompt = `You edit text on the user's behalf. Apply the spoken instruction to the
selected text. Reply with the replacement text only, without quotes or commentary.`

	generatePrompt = `You write text on the user's behalf at their cursor. Follow the spoken
instruction. Reply with the text to insert only, without quotes or commentary.`
)

// LLM implements dictation polish and command mode on top of a Completer.
type LLM struct {
	c   Completer
	log zerolog.Logger
}

// New wraps c.
func New(c Completer, log zerolog.Logger) *LLM {
	return &LLM{c: c, log: log}
}

// Name reports the backing provider.
func (l *LLM) Name() string { return l.c.Name() }

// Polish rewrites a raw transcript. notes selects bullet-point output.
func (l *LLM) Polish(ctx context.Context, text string, notes bool) (string, error) {
	prompt := polishPrompt
	if notes {
		prompt = notesPrompt
	}
	return l.complete(ctx, "polish", prompt, text)
}

// Transform applies a spoken instruction to the selected text.
func (l *LLM) Transform(ctx context.Context, selection, instruction string) (string, error) {
	user := fmt.Sprintf("Instruction:\n%s\n\nSelected text:\n%s", instruction, selection)
	return l.complete(ctx, "transform", transformPrompt, user)
}

// Generate produces new text from a spoken instruction.
func (l *LLM) Generate(ctx context.Context, instruction string) (string, error) {
	return l.complete(ctx, "generate", generatePrompt, instruction)
}

func (l *LLM) complete(ctx context.Context, op, system, user string) (string, error) {
	out, err := l.c.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("%s via %s: %w", op, l.c.Name(), err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%s via %s: %w", op, l.c.Name(), ErrEmptyResponse)
	}
	l.log.Debug().Str("op", op).Int("in", len(user)).Int("out", len(out)).Msg("llm completed")
	return out, nil
}

// Factory builds a Completer from configuration.
type Factory func(cfg config.Config, httpClient *http.Client) (Completer, error)

// NoneName disables polish and command mode.
const NoneName = "none"

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
	r.Register(OpenAIName, NewOpenAIFromConfig)
	r.Register(AnthropicName, NewAnthropicFromConfig)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Build returns the configured LLM, or nil when POLISHER is "none".
func (r *Registry) Build(cfg config.Config, httpClient *http.Client, log zerolog.Logger) (*LLM, error) {
	name := strings.ToLower(cfg.Polisher)
	if name == "" || name == NoneName {
		return nil, nil
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("polisher %q not registered (have %s)", cfg.Polisher, strings.Join(r.Names(), ", "))
	}
	c, err := f(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	return New(c, log), nil
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
