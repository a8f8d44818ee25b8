package voice

import (
	"time"

	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/quota"
)

type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
	StateEnded      State = "ended"
)

type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventMessage      EventType = "message"
	EventNotice       EventType = "notice"
	EventQuotaWarning EventType = "quota_warning"
	EventError        EventType = "error"
	EventEnded        EventType = "ended"
)

// Notice codes carried by EventNotice.
const (
	NoticeNoSpeech             = "no_speech"
	NoticeTranscriptionFailed  = "transcription_failed"
	NoticeLimitReached         = "limit_reached"
	NoticeSynthesisUnavailable = "synthesis_unavailable"
	NoticeMaxDuration          = "max_duration"
)

type Event struct {
	Type           EventType
	ConversationID string
	At             time.Time

	State   State
	Message *conversation.Message
	Notice  string
	Detail  string
	Warning *quota.Warning
	Err     error
}

const (
	subscriberBuffer = 64
	criticalTimeout  = 600 * time.Millisecond
)

func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// emit fans ev out to subscribers. A subscriber that is backed up misses
// progress events; messages, errors and the end of a conversation wait up to
// criticalTimeout for room before they are dropped.
func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if !ev.Type.critical() {
			e.metrics.Event("subscriber_drop")
			continue
		}
		timer := time.NewTimer(criticalTimeout)
		select {
		case ch <- ev:
		case <-timer.C:
			e.metrics.Event("subscriber_drop_critical")
		}
		timer.Stop()
	}
}

func (t EventType) critical() bool {
	switch t {
	case EventMessage, EventError, EventEnded:
		return true
	default:
		return false
	}
}
