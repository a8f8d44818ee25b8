package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/policy"
	"github.com/antoniostano/parley/internal/quota"
	"github.com/antoniostano/parley/internal/store"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	list, err := s.history.LoadConversations(r.Context())
	if err != nil {
		s.storageError(w, err)
		return
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	respondJSON(w, http.StatusOK, listConversationsResponse{Conversations: list})
}

type listConversationsResponse struct {
	Conversations []conversation.Conversation `json:"conversations"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	c, err := s.history.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	if err := s.history.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearConversations wipes the history. The caller's role comes from
// the session named in session_id; without one the caller is a plain user.
func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	role := policy.RoleUser
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" && s.sessions != nil {
		sess, err := s.sessions.Get(id)
		if err != nil {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		role = sess.Role
	}
	if !policy.CanClearHistory(role) {
		respondError(w, http.StatusForbidden, "forbidden", "role "+string(role)+" may not clear history")
		return
	}
	if err := s.history.ClearAll(r.Context()); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	a, ok := s.history.RetrieveAudio(r.Context(), chi.URLParam(r, "ref"))
	if !ok {
		respondError(w, http.StatusNotFound, "audio_not_found", "audio is missing or damaged")
		return
	}
	mime := a.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

type usageResponse struct {
	TotalWords      int         `json:"total_words"`
	Limit           int         `json:"limit"`
	RemainingWords  int         `json:"remaining_words"`
	Percentage      float64     `json:"percentage"`
	WarningLevel    quota.Level `json:"warning_level"`
	WindowStartDate string      `json:"window_start_date"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "quota tracker not configured")
		return
	}
	u := s.usage.Usage(r.Context())
	limit := s.usage.Limit()
	pct := 0.0
	if limit > 0 {
		pct = math.Round(float64(u.TotalWords)*10000/float64(limit)) / 100
	}
	respondJSON(w, http.StatusOK, usageResponse{
		TotalWords:      u.TotalWords,
		Limit:           limit,
		RemainingWords:  max(limit-u.TotalWords, 0),
		Percentage:      pct,
		WarningLevel:    u.WarningLevel,
		WindowStartDate: u.WindowStartDate,
	})
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	s.logger.Warn("history request failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
}
