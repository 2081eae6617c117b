package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ent0n29/companion/internal/reliability"
)

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	EmbeddingModel  string
	EmbeddingDim    int
	TranscribeModel string
	Language        string
	HTTPClient      *http.Client
}

// OpenAI implements Embedder, Completer and Transcriber against the OpenAI
// API or any compatible endpoint set through BaseURL.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
}

var (
	_ Embedder    = (*OpenAI)(nil)
	_ Completer   = (*OpenAI)(nil)
	_ Transcriber = (*OpenAI)(nil)
)

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, cfg: cfg}
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, reliability.Gateway("embed", ErrEmptyInput)
	}
	params := openai.EmbeddingNewParams{
		Model:          o.cfg.EmbeddingModel,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.cfg.EmbeddingDim > 0 {
		params.Dimensions = openai.Int(int64(o.cfg.EmbeddingDim))
	}
	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError("embed", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, reliability.Gateway("embed", ErrEmptyOutput)
	}
	return float64sToFloat32s(resp.Data[0].Embedding), nil
}

func (o *OpenAI) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if opts.System != "" {
		msgs = append(msgs, openai.SystemMessage(opts.System))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       o.cfg.ChatModel,
		Messages:    msgs,
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", reliability.Gateway("complete", fmt.Errorf("no choices"))
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", reliability.Gateway("complete", fmt.Errorf("refused: %s", choice.Message.Refusal))
	}
	out := strings.TrimSpace(choice.Message.Content)
	if out == "" {
		return "", reliability.Gateway("complete", ErrEmptyOutput)
	}
	return out, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", reliability.Gateway("transcribe", ErrEmptyInput)
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(o.cfg.TranscribeModel),
	}
	if o.cfg.Language != "" {
		params.Language = openai.String(o.cfg.Language)
	}
	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError("transcribe", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func classifyOpenAIError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
		return reliability.RetryableGateway(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return reliability.RetryableGateway(op, err)
	}
	return reliability.Gateway(op, err)
}
