package gateway

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder for local runs and
// tests. Texts sharing words get nearby vectors.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil, ErrEmptyInput
	}
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[f.Sum32()%uint32(dim)] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// MockCompleter answers every prompt through Respond, or echoes a short
// acknowledgement when Respond is nil. It records the prompts it saw.
type MockCompleter struct {
	Respond func(prompt string, opts CompletionOptions) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (m *MockCompleter) Complete(_ context.Context, prompt string, opts CompletionOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.Respond != nil {
		return m.Respond(prompt, opts)
	}
	if opts.JSON {
		return "{}", nil
	}
	return "I hear you. Tell me more.", nil
}

func (m *MockCompleter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// TextTranscriber treats the uploaded payload as already-transcribed UTF-8
// text once the WAV header is stripped. It lets the service run without a
// speech provider.
type TextTranscriber struct{}

func (TextTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	const wavHeaderSize = 44
	if len(wav) >= wavHeaderSize && string(wav[:4]) == "RIFF" {
		wav = wav[wavHeaderSize:]
	}
	return strings.TrimSpace(string(wav)), nil
}
