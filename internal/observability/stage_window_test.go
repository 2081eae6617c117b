package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.observe(StageRetrieve, 100)
	w.observe(StageRetrieve, 300)
	w.observe(StageRetrieve, 200)
	w.observe("", 50)
	w.observe(StageComplete, -1)

	snap := w.snapshot(time.Unix(0, 0))
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageRetrieve {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageRetrieve)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 200 {
		t.Fatalf("LastMS = %.2f, want 200", s.LastMS)
	}
	if s.P50MS != 200 {
		t.Fatalf("P50MS = %.2f, want 200", s.P50MS)
	}
	if s.AvgMS != 200 {
		t.Fatalf("AvgMS = %.2f, want 200", s.AvgMS)
	}
	if s.BudgetP95MS != 400 {
		t.Fatalf("BudgetP95MS = %.2f, want 400", s.BudgetP95MS)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	w.observe(StageComplete, 10)
	w.observe(StageComplete, 20)
	w.observe(StageComplete, 30)

	snap := w.snapshot(time.Now())
	if got := snap.Stages[0].Samples; got != 2 {
		t.Fatalf("Samples = %d, want 2", got)
	}
	if got := snap.Stages[0].AvgMS; got != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", got)
	}
}
