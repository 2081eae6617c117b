package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/gateway"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/reliability"
)

const (
	DefaultTopK        = 5
	DefaultTopN        = 3
	DefaultDecayWindow = 30 * 24 * time.Hour

	similarityWeight = 0.7
	recencyWeight    = 0.3
)

// Scored is a retrieved memory with its blended rank score.
type Scored struct {
	Candidate
	Recency float64 `json:"recency"`
	Score   float64 `json:"score"`
}

type Retriever struct {
	embedder gateway.Embedder
	index    Index
	topK     int
	topN     int
	window   time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type RetrieverOption func(*Retriever)

// WithLimits overrides how many candidates are fetched and how many are kept.
func WithLimits(topK, topN int) RetrieverOption {
	return func(r *Retriever) {
		if topK > 0 {
			r.topK = topK
		}
		if topN > 0 {
			r.topN = topN
		}
	}
}

func WithDecayWindow(d time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if d > 0 {
			r.window = d
		}
	}
}

func WithRetrieverClock(now func() time.Time) RetrieverOption {
	return func(r *Retriever) { r.now = now }
}

func WithRetrieverMetrics(m *observability.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

func WithRetrieverLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

func NewRetriever(embedder gateway.Embedder, index Index, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		topK:     DefaultTopK,
		topN:     DefaultTopN,
		window:   DefaultDecayWindow,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = observability.OrNop(r.logger)
	return r
}

// Retrieve returns at most topN of the user's memories ranked by
// 0.7*similarity + 0.3*recency, best first.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string) ([]Scored, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveStage(observability.StageRetrieve, time.Since(start)) }()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.metrics.IncMemoryRetrieval("error")
		return nil, reliability.Gateway("embed query", err)
	}
	candidates, err := r.index.Query(ctx, userID, vec, r.topK)
	if err != nil {
		r.metrics.IncMemoryRetrieval("error")
		return nil, reliability.Index("query memories", err)
	}
	ranked := Rank(candidates, r.now(), r.window, r.topN)
	if len(ranked) == 0 {
		r.metrics.IncMemoryRetrieval("empty")
	} else {
		r.metrics.IncMemoryRetrieval("hit")
	}
	r.logger.Debug("memories retrieved",
		zap.String("user_id", userID),
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(ranked)),
	)
	return ranked, nil
}

// Rank scores candidates against now and keeps the best topN.
func Rank(candidates []Candidate, now time.Time, window time.Duration, topN int) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		rec := RecencyScore(c.Timestamp, now, window)
		scored = append(scored, Scored{
			Candidate: c,
			Recency:   rec,
			Score:     FinalScore(c.Similarity, rec),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topN >= 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

// RecencyScore maps ts linearly onto [0,1] across the window ending at now.
// A zero ts counts as now.
func RecencyScore(ts, now time.Time, window time.Duration) float64 {
	if ts.IsZero() {
		return 1
	}
	if window <= 0 {
		window = DefaultDecayWindow
	}
	windowStart := now.Add(-window)
	return clamp01(float64(ts.Sub(windowStart)) / float64(window))
}

func FinalScore(similarity, recency float64) float64 {
	return similarityWeight*similarity + recencyWeight*recency
}

// Render joins the memory texts one per line, or returns noMemories when
// nothing was retrieved.
func Render(scored []Scored, noMemories string) string {
	if len(scored) == 0 {
		return noMemories
	}
	texts := make([]string, len(scored))
	for i, s := range scored {
		texts[i] = s.Text
	}
	return strings.Join(texts, "\n")
}
