package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ent0n29/companion/internal/reliability"
)

const anthropicDefaultMaxTokens = 1024

// Anthropic is a Completer backed by the Claude Messages API. It has no
// embedding or transcription endpoint, so it is paired with another gateway
// for those.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

var _ Completer = (*Anthropic)(nil)

func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, model: model}
}

func (a *Anthropic) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	system := opts.System
	if opts.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(opts.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return "", reliability.RetryableGateway("complete", err)
		}
		return "", reliability.Gateway("complete", fmt.Errorf("claude API error: %w", err))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", reliability.Gateway("complete", ErrEmptyOutput)
	}
	return out, nil
}
