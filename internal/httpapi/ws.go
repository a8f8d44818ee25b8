package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/capture"
	"github.com/antoniostano/parley/internal/protocol"
	"github.com/antoniostano/parley/internal/session"
	"github.com/antoniostano/parley/internal/voice"
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	live := s.getLive(sessionID)
	if live == nil || sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	if !live.link.attach(outbound) {
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "already_connected",
			Source:    "gateway",
			Detail:    "another client is connected to this session",
		})
		return
	}
	defer live.link.detach()
	s.metrics.Event("ws_connected")

	events, unsubscribe := live.engine.Subscribe()
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSMessage("outbound_error", "write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessage("outbound", string(t))
				}
			}
		}
	}()

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		s.forwardEvents(ctx, sessionID, live, events, outbound)
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_ = s.sessions.Touch(sessionID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			queue(outbound, s.errorEvent(sessionID, "invalid_client_message", "gateway", false, err.Error()))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}

		switch m := parsed.(type) {
		case protocol.ClientAudioChunk:
			raw, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
			if err != nil {
				queue(outbound, s.errorEvent(sessionID, "invalid_audio", "gateway", false, err.Error()))
				continue
			}
			live.link.push(audio.BytesToInt16(raw), m.SampleRate)
		case protocol.ClientControl:
			if err := s.control(ctx, sessionID, live, m); err != nil {
				queue(outbound, s.errorEvent(sessionID, controlErrorCode(err), "engine", true, err.Error()))
			}
		}
	}

	cancel()
	<-writerDone
	<-forwardDone
	s.metrics.Event("ws_disconnected")
}

func (s *Server) control(ctx context.Context, sessionID string, live *liveSession, m protocol.ClientControl) error {
	engine := live.engine
	switch m.Action {
	case protocol.ActionStart:
		if conv, ok := engine.Conversation(); !ok || conv.Ended() {
			convID, err := engine.Begin(live.cfg, live.exempt)
			if err != nil && !errors.Is(err, voice.ErrConversationActive) {
				return err
			}
			if err == nil {
				_ = s.sessions.Bind(sessionID, convID)
			}
		}
		return engine.Start(ctx)
	case protocol.ActionInterrupt:
		return engine.Interrupt(ctx)
	case protocol.ActionStopSpeaking:
		engine.StopSpeaking()
	case protocol.ActionStopListening:
		engine.StopListening()
	case protocol.ActionPlaybackDone:
		live.link.ack(m.Seq)
	case protocol.ActionEnd:
		_, err := engine.End(ctx)
		return err
	}
	return nil
}

func controlErrorCode(err error) string {
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, voice.ErrInterruptionDisabled):
		return "interruption_disabled"
	case errors.Is(err, voice.ErrNoConversation), errors.Is(err, voice.ErrEnded):
		return "no_conversation"
	default:
		return "control_failed"
	}
}

// forwardEvents turns engine events into protocol messages until ctx is done
// or the subscription is closed.
func (s *Server) forwardEvents(ctx context.Context, sessionID string, live *liveSession, events <-chan voice.Event, outbound chan<- any) {
	for {
		var ev voice.Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		}

		var msg any
		switch ev.Type {
		case voice.EventStateChanged:
			msg = protocol.StateChanged{
				Type:           protocol.TypeStateChanged,
				SessionID:      sessionID,
				ConversationID: ev.ConversationID,
				State:          string(ev.State),
			}
		case voice.EventMessage:
			if ev.Message == nil {
				continue
			}
			msg = protocol.Message{
				Type:           protocol.TypeMessage,
				SessionID:      sessionID,
				ConversationID: ev.ConversationID,
				Message:        *ev.Message,
			}
		case voice.EventNotice:
			msg = protocol.Notice{Type: protocol.TypeNotice, SessionID: sessionID, Code: ev.Notice, Detail: ev.Detail}
		case voice.EventQuotaWarning:
			if ev.Warning == nil {
				continue
			}
			msg = protocol.QuotaWarning{Type: protocol.TypeQuotaWarning, SessionID: sessionID, Warning: *ev.Warning}
		case voice.EventError:
			code := "engine_error"
			if errors.Is(ev.Err, capture.ErrDeviceUnavailable) {
				code = "device_unavailable"
			}
			msg = s.errorEvent(sessionID, code, "engine", true, ev.Detail)
		case voice.EventEnded:
			conv, ok := live.engine.Conversation()
			if !ok {
				continue
			}
			msg = protocol.ConversationEnded{Type: protocol.TypeConversationEnded, SessionID: sessionID, Conversation: conv}
		default:
			s.logger.Debug("unhandled engine event", zap.String("type", string(ev.Type)))
			continue
		}

		select {
		case outbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) errorEvent(sessionID, code, source string, retryable bool, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

// queue drops msg when the outbound queue is saturated so reads never block
// on a slow writer.
func queue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.StateChanged:
		return m.Type, true
	case protocol.Message:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.Notice:
		return m.Type, true
	case protocol.QuotaWarning:
		return m.Type, true
	case protocol.ConversationEnded:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
