package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe(StageRiskCheck, 500*time.Millisecond)
	w.Observe(StageRiskCheck, 700*time.Millisecond)
	w.Observe(StageRiskCheck, 900*time.Millisecond)
	w.Count("risk_unavailable")
	w.Count("risk_unavailable")
	w.Count(" ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageRiskCheck || s.Samples != 3 {
		t.Fatalf("unexpected stage stats: %+v", s)
	}
	if s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("LastMS = %.2f P50MS = %.2f, want 900/700", s.LastMS, s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f, want 4000", s.TargetP95MS)
	}
	if len(snap.Counters) != 1 || snap.Counters[0].Name != "risk_unavailable" || snap.Counters[0].Count != 2 {
		t.Fatalf("Counters = %+v", snap.Counters)
	}
}

func TestLatencyWindowWraps(t *testing.T) {
	w := NewLatencyWindow(2)
	for _, ms := range []int{10, 20, 30} {
		w.Observe(StageChannelKill, time.Duration(ms)*time.Millisecond)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 25 {
		t.Fatalf("after wrap: %+v, want 2 samples avg 25", s)
	}
}
