package conversation

import (
	"testing"
	"time"
)

func TestTailOldestFirst(t *testing.T) {
	now := time.Now()
	var history []Message
	for _, text := range []string{"a", "b", "c", "d"} {
		history = append(history, NewMessage(RoleUser, text, now))
	}

	got := Tail(history, 2)
	if len(got) != 2 {
		t.Fatalf("len(Tail) = %d, want 2", len(got))
	}
	if got[0].Text != "c" || got[1].Text != "d" {
		t.Fatalf("Tail() = [%q %q], want [c d]", got[0].Text, got[1].Text)
	}
	if n := len(Tail(history, 10)); n != 4 {
		t.Fatalf("len(Tail(10)) = %d, want 4", n)
	}
	if Tail(history, 0) != nil {
		t.Fatalf("Tail(0) should be nil")
	}
}

func TestObserveResponseTimeAverages(t *testing.T) {
	c := New(DefaultConfig(), time.Now())
	c.ObserveResponseTime(100 * time.Millisecond)
	c.ObserveResponseTime(300 * time.Millisecond)
	if c.Stats.AvgResponseTimeMs != 200 {
		t.Fatalf("AvgResponseTimeMs = %.2f, want 200", c.Stats.AvgResponseTimeMs)
	}
}

func TestFinishKeepsFirstEnd(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	c := New(DefaultConfig(), start)
	c.Finish(start.Add(90 * time.Second))
	c.Finish(start.Add(5 * time.Minute))
	if c.Stats.TotalDurationSeconds != 90 {
		t.Fatalf("TotalDurationSeconds = %.1f, want 90", c.Stats.TotalDurationSeconds)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := New(DefaultConfig(), time.Now())
	m := NewMessage(RoleUser, "hello", time.Now())
	m.Quality = &QualityMetrics{PeakLevel: 0.5}
	c.Append(m)

	snap := c.Snapshot()
	snap.Messages[0].Quality.PeakLevel = 0.9
	snap.Messages = append(snap.Messages, NewMessage(RoleAssistant, "hi", time.Now()))

	if c.Messages[0].Quality.PeakLevel != 0.5 {
		t.Fatalf("snapshot mutation leaked into conversation")
	}
	if len(c.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(c.Messages))
	}
}

func TestNormalizeClampsPersonality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Personality = 9
	cfg.Policy.ContextWindow = 0
	got := cfg.Normalize()
	if got.Model.Personality != MaxPersonality {
		t.Fatalf("Personality = %d, want %d", got.Model.Personality, MaxPersonality)
	}
	if got.Policy.ContextWindow != 1 {
		t.Fatalf("ContextWindow = %d, want 1", got.Policy.ContextWindow)
	}
}

func TestValidateRejectsUnknownGender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Voice.Gender = "robot"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error")
	}
}
