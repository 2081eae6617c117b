package memory

import (
	"context"
	"errors"
	"sync"
)

type fakeIndex struct {
	mu         sync.Mutex
	upserts    []Record
	candidates []Candidate
	upsertErr  error
	queryErr   error
	lastTopK   int
}

func (f *fakeIndex) Upsert(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ string, _ []float32, topK int) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTopK = topK
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]Candidate(nil), f.candidates...), nil
}

func (f *fakeIndex) Close() error { return nil }

type fakeEmbedder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

var errBoom = errors.New("boom")
