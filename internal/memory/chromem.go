package memory

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ent0n29/companion/internal/reliability"
)

// ChromemIndex keeps memory records in chromem-go, one collection per user.
type ChromemIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex creates an in-process index. A non-empty dir makes it
// persistent on disk.
func NewChromemIndex(dir string) (*ChromemIndex, error) {
	db := chromem.NewDB()
	if dir != "" {
		var err error
		db, err = chromem.NewPersistentDB(dir, true)
		if err != nil {
			return nil, reliability.Index("open chromem", err)
		}
	}
	return &ChromemIndex{db: db, collections: make(map[string]*chromem.Collection)}, nil
}

func (c *ChromemIndex) collection(userID string) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[userID]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[userID]; ok {
		return col, nil
	}
	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := c.db.GetOrCreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	c.collections[userID] = col
	return col, nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) == 0 {
		return reliability.Index("upsert", fmt.Errorf("record %s has no embedding", rec.ID))
	}
	col, err := c.collection(rec.UserID)
	if err != nil {
		return reliability.Index("upsert", err)
	}
	doc := chromem.Document{
		ID:        rec.ID,
		Metadata:  rec.Metadata(),
		Embedding: append([]float32(nil), rec.Embedding...),
		Content:   rec.Text,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return reliability.Index("upsert", err)
	}
	return nil
}

func (c *ChromemIndex) Query(ctx context.Context, userID string, vec []float32, topK int) ([]Candidate, error) {
	col, err := c.collection(userID)
	if err != nil {
		return nil, reliability.Index("query", err)
	}
	// chromem rejects nResults larger than the collection.
	n := min(topK, col.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, append([]float32(nil), vec...), n, nil, nil)
	if err != nil {
		return nil, reliability.Index("query", err)
	}
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		text := r.Metadata[MetaText]
		if text == "" {
			text = r.Content
		}
		out = append(out, Candidate{
			ID:         r.ID,
			Text:       text,
			Kind:       Kind(r.Metadata[MetaKind]),
			Similarity: clamp01(float64(r.Similarity)),
			Timestamp:  parseTimestamp(r.Metadata[MetaTimestamp]),
		})
	}
	return out, nil
}

// Close is a no-op. Persistent chromem databases write through on every add.
func (c *ChromemIndex) Close() error { return nil }
