package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageGenerate, 500)
	w.Observe(StageGenerate, 700)
	w.Observe(StageGenerate, 900)
	w.Observe("", 100)
	w.Observe(StageGenerate, -1)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.AvgMS != 700 {
		t.Fatalf("AvgMS = %.2f, want 700", s.AvgMS)
	}
	if s.TargetP95MS != 2500 {
		t.Fatalf("TargetP95MS = %.2f, want 2500", s.TargetP95MS)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe(StageTranscribe, v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Event("x")
	m.QuotaWarning("early")
	m.ObserveTurnLatency(time.Second)
	if len(m.StageSnapshot().Stages) != 0 {
		t.Fatalf("nil metrics snapshot should be empty")
	}
}

func TestMetricsObserveTurnLatencyFeedsWindow(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("parley_test_obs_%d", time.Now().UnixNano()))
	m.ObserveTurnLatency(1500 * time.Millisecond)
	snap := m.StageSnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageTurnTotal {
		t.Fatalf("snapshot stages = %+v, want one %s stage", snap.Stages, StageTurnTotal)
	}
}
