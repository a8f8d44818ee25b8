package conversation

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// QualityMetrics summarizes the captured signal behind a user message.
type QualityMetrics struct {
	PeakLevel     float64 `json:"peak_level"`
	RMSLevel      float64 `json:"rms_level"`
	ClippingRatio float64 `json:"clipping_ratio"`
	SNREstimateDB float64 `json:"snr_estimate_db"`
}

// Message is one utterance. It is a value type and is not modified after it
// has been appended to a conversation.
type Message struct {
	ID              string          `json:"id"`
	Role            Role            `json:"role"`
	Text            string          `json:"text"`
	AudioRef        string          `json:"audio_ref,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	DurationSeconds float64         `json:"duration_seconds"`
	Confidence      float64         `json:"confidence,omitempty"`
	Quality         *QualityMetrics `json:"quality,omitempty"`
}

func NewMessage(role Role, text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: now.UTC(),
	}
}

type Stats struct {
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
	InterruptionCount    int     `json:"interruption_count"`
}

type Conversation struct {
	ID        string     `json:"id"`
	Messages  []Message  `json:"messages"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Config    Config     `json:"config"`
	Stats     Stats      `json:"stats"`

	responseSamples int
}

func New(cfg Config, now time.Time) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		Messages:  make([]Message, 0, 16),
		StartedAt: now.UTC(),
		Config:    cfg,
	}
}

// Append adds m to the end of the message list.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// ObserveResponseTime folds d into the running average response time.
func (c *Conversation) ObserveResponseTime(d time.Duration) {
	c.responseSamples++
	ms := float64(d.Microseconds()) / 1000
	c.Stats.AvgResponseTimeMs += (ms - c.Stats.AvgResponseTimeMs) / float64(c.responseSamples)
}

func (c *Conversation) Ended() bool {
	return c.EndedAt != nil
}

// Finish stamps the end time and total duration. Calling it twice keeps the
// first end time.
func (c *Conversation) Finish(now time.Time) {
	if c.EndedAt != nil {
		return
	}
	end := now.UTC()
	c.EndedAt = &end
	c.Stats.TotalDurationSeconds = end.Sub(c.StartedAt).Seconds()
}

// Snapshot returns a deep copy that is safe to hand to other goroutines.
func (c *Conversation) Snapshot() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.Quality != nil {
			q := *m.Quality
			m.Quality = &q
		}
		out.Messages[i] = m
	}
	if c.EndedAt != nil {
		end := *c.EndedAt
		out.EndedAt = &end
	}
	return out
}

// Recent returns up to n of the latest messages, oldest first.
func (c *Conversation) Recent(n int) []Message {
	return Tail(c.Messages, n)
}

// Tail returns up to n of the last messages of history, oldest first.
func Tail(history []Message, n int) []Message {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if n > len(history) {
		n = len(history)
	}
	out := make([]Message, n)
	copy(out, history[len(history)-n:])
	return out
}
