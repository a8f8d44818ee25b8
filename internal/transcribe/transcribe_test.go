package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/capture"
)

type stubBackend struct {
	name  string
	calls int
	fn    func(Request) (Response, error)
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Transcribe(_ context.Context, req Request) (Response, error) {
	b.calls++
	return b.fn(req)
}

func spoken() capture.Recording {
	return capture.Recording{
		PCM:            audio.PCM{Samples: make([]int16, 1600), SampleRate: 16000},
		SpeechDetected: true,
	}
}

func TestAdapterReturnsTranscript(t *testing.T) {
	var got Request
	primary := &stubBackend{name: "p", fn: func(req Request) (Response, error) {
		got = req
		return Response{Text: "  what is the weather  ", Confidence: 0.9}, nil
	}}
	a := NewAdapter(primary, nil, Options{})

	res, err := a.Transcribe(context.Background(), spoken(), "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "what is the weather" {
		t.Fatalf("Text = %q, want trimmed transcript", res.Text)
	}
	if got.LanguageHint != "en" || got.MIMEType != "audio/wav" {
		t.Fatalf("request = %+v", got)
	}
	if _, err := audio.ParseWAV(got.Audio); err != nil {
		t.Fatalf("request audio is not WAV: %v", err)
	}
}

func TestAdapterNoSpeech(t *testing.T) {
	primary := &stubBackend{name: "p", fn: func(Request) (Response, error) {
		return Response{Text: "   "}, nil
	}}
	a := NewAdapter(primary, nil, Options{})

	if _, err := a.Transcribe(context.Background(), capture.Recording{}, ""); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("silent recording error = %v, want ErrNoSpeech", err)
	}
	if primary.calls != 0 {
		t.Fatalf("backend called for a silent recording")
	}
	if _, err := a.Transcribe(context.Background(), spoken(), ""); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("empty transcript error = %v, want ErrNoSpeech", err)
	}
	if errors.Is(ErrNoSpeech, ErrBackendUnavailable) {
		t.Fatalf("ErrNoSpeech must be distinguishable from backend failure")
	}
}

func TestAdapterFailoverSticks(t *testing.T) {
	primary := &stubBackend{name: "p", fn: func(Request) (Response, error) {
		return Response{}, errors.New("primary down")
	}}
	fallback := &stubBackend{name: "f", fn: func(Request) (Response, error) {
		return Response{Text: "hello"}, nil
	}}
	a := NewAdapter(primary, fallback, Options{})

	for i := 0; i < 2; i++ {
		res, err := a.Transcribe(context.Background(), spoken(), "")
		if err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		if res.Backend != "f" {
			t.Fatalf("Backend = %q, want f", res.Backend)
		}
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1 once fallback active", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
}

func TestAdapterAllBackendsFail(t *testing.T) {
	fail := func(Request) (Response, error) { return Response{}, errors.New("boom") }
	a := NewAdapter(&stubBackend{name: "p", fn: fail}, &stubBackend{name: "f", fn: fail}, Options{})

	_, err := a.Transcribe(context.Background(), spoken(), "")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("error = %v, want ErrBackendUnavailable", err)
	}
	var be *BackendError
	if !errors.As(err, &be) || be.Backend != "p,f" {
		t.Fatalf("BackendError = %+v, want backends p,f", be)
	}
}

func TestHTTPBackendRetriesRetryableStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if r.FormValue("language") != "de" {
			t.Errorf("language = %q, want de", r.FormValue("language"))
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "guten tag", "language": "de"})
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL)
	b.retry.Base = 0
	resp, err := b.Transcribe(context.Background(), Request{Audio: []byte("RIFF"), LanguageHint: "de"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if resp.Text != "guten tag" || resp.Confidence != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestHTTPBackendDoesNotRetryClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewHTTPBackend(srv.URL).Transcribe(context.Background(), Request{}); err == nil {
		t.Fatalf("Transcribe() error = nil, want status error")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestSyntheticBackendCycles(t *testing.T) {
	b := NewSyntheticBackend("one", "two")
	var got []string
	for i := 0; i < 3; i++ {
		resp, err := b.Transcribe(context.Background(), Request{})
		if err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		got = append(got, resp.Text)
	}
	if got[0] != "one" || got[1] != "two" || got[2] != "one" {
		t.Fatalf("transcripts = %v", got)
	}
}
