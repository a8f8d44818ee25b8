package main

import (
	"testing"
	"time"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://voice.example.com/base/", "s 1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if want := "wss://voice.example.com/base/v1/voice/session/ws?session_id=s+1"; got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}
	if _, err := wsURLForSession("ftp://example.com", "s"); err == nil {
		t.Fatalf("wsURLForSession(ftp) error = nil, want error")
	}
}

func TestChunkPCM(t *testing.T) {
	chunks := chunkPCM(make([]int16, 10), 4)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[2]) != 2 {
		t.Fatalf("len(last chunk) = %d, want 2", len(chunks[2]))
	}
	if got := chunkPCM(nil, 4); len(got) != 0 {
		t.Fatalf("chunkPCM(nil) = %v, want empty", got)
	}
}

func TestSummarize(t *testing.T) {
	if _, ok := summarize(nil); ok {
		t.Fatalf("summarize(nil) ok = true")
	}
	var d []time.Duration
	for i := 20; i >= 1; i-- {
		d = append(d, time.Duration(i)*time.Millisecond)
	}
	s, ok := summarize(d)
	if !ok {
		t.Fatalf("summarize() ok = false")
	}
	if s.min != time.Millisecond || s.max != 20*time.Millisecond {
		t.Fatalf("min/max = %s/%s, want 1ms/20ms", s.min, s.max)
	}
	if s.p50 != 10*time.Millisecond || s.p95 != 19*time.Millisecond {
		t.Fatalf("p50/p95 = %s/%s, want 10ms/19ms", s.p50, s.p95)
	}
	if d[0] != 20*time.Millisecond {
		t.Fatalf("summarize() reordered its input")
	}
}

func TestReplayOptionsValidate(t *testing.T) {
	o := replayOptions{baseURL: " http://localhost:8080/ ", turns: 1, chunkMS: 40, realtime: 1, turnTimeout: time.Second}
	if err := o.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if o.baseURL != "http://localhost:8080" {
		t.Fatalf("baseURL = %q, want trimmed", o.baseURL)
	}
	bad := o
	bad.chunkMS = 5
	if err := bad.validate(); err == nil {
		t.Fatalf("validate(chunk-ms=5) error = nil")
	}
}
