package summary

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"kiromemory/internal/config"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// anthropicProvider talks to the Anthropic Messages API.
type anthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

func newAnthropicProvider(cfg config.SummaryConfig) (*anthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic provider requires an API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...), model: model}, nil
}

func (p *anthropicProvider) Name() string { return "anthropic:" + string(p.model) }

func (p *anthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: completionMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(message.Content) == 0 {
		return "", errors.New("anthropic returned no content blocks")
	}
	if block := message.Content[0]; block.Type == "text" {
		return block.Text, nil
	}
	return "", fmt.Errorf("anthropic returned a non-text block (type=%s)", message.Content[0].Type)
}
