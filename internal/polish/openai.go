package polish

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"dictate/internal/config"
)

// OpenAIName selects the OpenAI chat completions API.
const OpenAIName = "openai"

// OpenAI is a Completer backed by chat completions.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI completer. baseURL may point at any compatible server.
func NewOpenAI(apiKey, baseURL, model string, httpClient *http.Client) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is empty")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

// NewOpenAIFromConfig is the registry factory.
func NewOpenAIFromConfig(cfg config.Config, httpClient *http.Client) (Completer, error) {
	return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.PolishModel, httpClient)
}

// Name implements Completer.
func (o *OpenAI) Name() string { return OpenAIName }

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	res, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return res.Choices[0].Message.Content, nil
}
