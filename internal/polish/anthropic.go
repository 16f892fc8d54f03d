package polish

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"dictate/internal/config"
)

// AnthropicName selects the Anthropic messages API.
const AnthropicName = "anthropic"

const anthropicMaxTokens = 2048

// Anthropic is a Completer backed by the messages API.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic creates an Anthropic completer.
func NewAnthropic(apiKey, baseURL, model string, httpClient *http.Client) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is empty")
	}
	m := anthropic.Model(model)
	if model == "" || strings.HasPrefix(model, "gpt-") {
		m = anthropic.ModelClaudeHaiku4_5
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: m}, nil
}

// NewAnthropicFromConfig is the registry factory.
func NewAnthropicFromConfig(cfg config.Config, httpClient *http.Client) (Completer, error) {
	return NewAnthropic(cfg.AnthropicAPIKey, "", cfg.PolishModel, httpClient)
}

// Name implements Completer.
func (a *Anthropic) Name() string { return AnthropicName }

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
