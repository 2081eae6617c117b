package gateway

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoises embeddings by exact text. Retrieval queries repeat
// often within a session (retries, "please repeat" turns), so a small cache
// saves gateway round trips.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next with a cache bounded to roughly maxItems vectors.
func NewCachedEmbedder(next Embedder, maxItems int) (*CachedEmbedder, error) {
	if maxItems <= 0 {
		maxItems = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxItems) * 10,
		MaxCost:     int64(maxItems),
		BufferItems: 64,

		// Cost is counted in vectors, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
