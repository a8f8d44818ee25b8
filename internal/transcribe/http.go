package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/parley/internal/reliability"
)

// HTTPBackend posts audio to a whisper-server style endpoint as multipart
// form data and reads a JSON {"text": ...} response.
type HTTPBackend struct {
	url    string
	client *http.Client
	retry  reliability.Policy
}

func NewHTTPBackend(url string) *HTTPBackend {
	return &HTTPBackend{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 60 * time.Second},
		retry:  reliability.Policy{Attempts: 3, Base: 200 * time.Millisecond, Cap: 2 * time.Second},
	}
}

func (b *HTTPBackend) Name() string { return "http" }

type httpTranscript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

func (b *HTTPBackend) Transcribe(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = b.once(ctx, req)
		return err
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (b *HTTPBackend) once(ctx context.Context, req Request) (Response, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return Response{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return Response{}, fmt.Errorf("write form file: %w", err)
	}
	_ = form.WriteField("response_format", "json")
	if req.LanguageHint != "" {
		_ = form.WriteField("language", req.LanguageHint)
	}
	if err := form.Close(); err != nil {
		return Response{}, fmt.Errorf("close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, &body)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	res, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &reliability.StatusError{Provider: "stt http", Code: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out httpTranscript
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Confidence == 0 {
		out.Confidence = 1
	}
	return Response{Text: out.Text, Language: out.Language, Confidence: out.Confidence}, nil
}
