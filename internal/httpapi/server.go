package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/capture"
	"github.com/antoniostano/parley/internal/config"
	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/playback"
	"github.com/antoniostano/parley/internal/policy"
	"github.com/antoniostano/parley/internal/quota"
	"github.com/antoniostano/parley/internal/session"
	"github.com/antoniostano/parley/internal/store"
	"github.com/antoniostano/parley/internal/synth"
	"github.com/antoniostano/parley/internal/voice"
)

// EngineFactory builds an engine whose audio runs through the given devices.
type EngineFactory func(mic capture.Microphone, speaker playback.Speaker) *voice.Engine

type History interface {
	LoadConversations(ctx context.Context) ([]conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	RetrieveAudio(ctx context.Context, ref string) (store.Audio, bool)
}

type UsageReporter interface {
	Usage(ctx context.Context) quota.Usage
	Limit() int
}

type Deps struct {
	Config    config.Config
	Sessions  *session.Manager
	NewEngine EngineFactory
	History   History
	Usage     UsageReporter
	Catalog   *synth.Catalog
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	newEngine EngineFactory
	history   History
	usage     UsageReporter
	catalog   *synth.Catalog
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession is the engine and client link behind one API session.
type liveSession struct {
	engine *voice.Engine
	link   *clientLink
	cfg    conversation.Config
	exempt bool
}

func New(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		sessions:  d.Sessions,
		newEngine: d.NewEngine,
		history:   d.History,
		usage:     d.Usage,
		catalog:   d.Catalog,
		metrics:   d.Metrics,
		logger:    logging.OrNop(d.Logger).Named("httpapi"),
		live:      make(map[string]*liveSession),
	}
	allowAny := d.Config.AllowAnyOrigin
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAny {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients usually omit Origin.
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	if s.sessions != nil {
		s.sessions.SetExpireHook(s.expireSession)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.corsOptions()))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitPerMinute, time.Minute))
		}
		r.Post("/voice/session", s.handleCreateSession)
		r.Post("/voice/session/{id}/end", s.handleEndSession)
		r.Get("/voice/session/ws", s.handleSessionWS)
		r.Get("/voices", s.handleListVoices)
		r.Get("/perf/latency", s.handlePerfLatency)

		r.Get("/conversations", s.handleListConversations)
		r.Delete("/conversations", s.handleClearConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
		r.Get("/audio/{ref}", s.handleGetAudio)
		r.Get("/usage", s.handleUsage)
	})
	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.cfg.CORSOrigins
	if s.cfg.AllowAnyOrigin || len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}
}

// Close ends every live conversation. Used on shutdown.
func (s *Server) Close(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if live := s.takeLive(id); live != nil {
			s.shutdown(ctx, id, live)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.sessions != nil {
		active = s.sessions.ActiveCount()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": active,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.newEngine == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.newEngine == nil || s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	role := policy.ParseRole(req.Role)

	cfg := s.cfg.Conversation
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}
	}

	sess := s.sessions.Create(req.UserID, role)
	link := newClientLink(sess.ID, s.metrics)
	engine := s.newEngine(link.microphone(), link.speaker())
	convID, err := engine.Begin(cfg, policy.QuotaExempt(role))
	if err != nil {
		engine.Close()
		_, _ = s.sessions.End(sess.ID)
		s.sessions.Remove(sess.ID)
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	_ = s.sessions.Bind(sess.ID, convID)

	s.mu.Lock()
	s.live[sess.ID] = &liveSession{engine: engine, link: link, cfg: cfg, exempt: policy.QuotaExempt(role)}
	s.mu.Unlock()

	s.metrics.Event("session_created")
	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("conversation_id", convID),
		zap.String("role", string(role)),
	)
	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		ConversationID:  convID,
		UserID:          sess.UserID,
		Role:            sess.Role,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

type endSessionResponse struct {
	Session      *session.Session           `json:"session"`
	Conversation *conversation.Conversation `json:"conversation,omitempty"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" || s.sessions == nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	resp := endSessionResponse{Session: sess}
	if live := s.takeLive(id); live != nil {
		if conv, ok := s.shutdown(r.Context(), id, live); ok {
			resp.Conversation = &conv
		}
	}
	s.metrics.Event("session_ended")
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) expireSession(sess *session.Session) {
	s.metrics.Event("session_expired")
	if live := s.takeLive(sess.ID); live != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.shutdown(ctx, sess.ID, live)
	}
}

func (s *Server) takeLive(id string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.live[id]
	delete(s.live, id)
	return live
}

func (s *Server) getLive(id string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

func (s *Server) shutdown(ctx context.Context, id string, live *liveSession) (conversation.Conversation, bool) {
	conv, err := live.engine.End(ctx)
	if err != nil && !errors.Is(err, voice.ErrNoConversation) {
		s.logger.Warn("end conversation failed", zap.String("session_id", id), zap.Error(err))
	}
	live.engine.Close()
	live.link.detach()
	return conv, err == nil
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
