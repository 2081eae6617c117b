package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Pipeline stages observed per live turn and per session teardown.
const (
	StageTranscribe  = "transcribe"
	StageRetrieve    = "retrieve"
	StageComplete    = "complete"
	StagePersist     = "persist"
	StageTurnTotal   = "turn_total"
	StageMemoryWrite = "memory_write"
	StageReport      = "report"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	BudgetP95MS float64 `json:"budget_p95_ms,omitempty"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// stageWindow keeps the last N latency samples per stage in ring buffers.
type stageWindow struct {
	mu      sync.RWMutex
	size    int
	samples map[string]*ring
}

type ring struct {
	values []float64
	next   int
	full   bool
	last   float64
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{size: size, samples: make(map[string]*ring)}
}

func (w *stageWindow) observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.samples[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.samples[stage] = r
	}
	r.values[r.next] = ms
	r.last = ms
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.full = true
	}
}

func (w *stageWindow) snapshot(now time.Time) StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.samples))
	for name := range w.samples {
		names = append(names, name)
	}
	sort.Strings(names)

	out := StageSnapshot{GeneratedAt: now.UTC(), WindowSize: w.size, Stages: make([]StageStats, 0, len(names))}
	for _, name := range names {
		r := w.samples[name]
		n := r.next
		if r.full {
			n = len(r.values)
		}
		if n == 0 {
			continue
		}
		sorted := append([]float64(nil), r.values[:n]...)
		sort.Float64s(sorted)
		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		out.Stages = append(out.Stages, StageStats{
			Stage:       name,
			Samples:     n,
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(sorted, 0.50)),
			P95MS:       round2(quantile(sorted, 0.95)),
			BudgetP95MS: stageBudgetP95MS(name),
		})
	}
	return out
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageBudgetP95MS(stage string) float64 {
	switch stage {
	case StageTranscribe:
		return 1500
	case StageRetrieve:
		return 400
	case StageComplete:
		return 2500
	case StageTurnTotal:
		return 5000
	default:
		return 0
	}
}
