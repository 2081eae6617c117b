// Package gateway wraps the model providers the assistant talks to: speech
// transcription, chat completion and text embedding.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/companion/internal/reliability"
)

var (
	ErrEmptyInput  = errors.New("gateway: empty input")
	ErrEmptyOutput = errors.New("gateway: empty output")
	ErrInvalidJSON = errors.New("gateway: output is not a JSON object")
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces a single completion for a rendered prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

// Transcriber converts a WAV payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

type CompletionOptions struct {
	System      string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// CompleteJSON runs a JSON-mode completion and fails closed: anything that
// does not decode as a single JSON object is reported as a gateway error.
func CompleteJSON(ctx context.Context, c Completer, prompt string, opts CompletionOptions) (map[string]json.RawMessage, error) {
	opts.JSON = true
	out, err := c.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	raw := stripCodeFence(out)
	if raw == "" {
		return nil, reliability.Gateway("complete_json", ErrEmptyOutput)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, reliability.Gateway("complete_json", fmt.Errorf("%w: %v", ErrInvalidJSON, err))
	}
	if dec.More() {
		return nil, reliability.Gateway("complete_json", fmt.Errorf("%w: trailing data", ErrInvalidJSON))
	}
	return obj, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
