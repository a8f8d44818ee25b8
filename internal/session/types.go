package session

import (
	"encoding/json"
	"time"

	"github.com/antoniostano/parley/internal/policy"
)

// CreateRequest is the body of POST /v1/voice/session. Config, when present,
// is decoded over the server's default conversation profile.
type CreateRequest struct {
	UserID string          `json:"user_id"`
	Role   string          `json:"role"`
	Config json.RawMessage `json:"config,omitempty"`
}

type CreateResponse struct {
	SessionID       string      `json:"session_id"`
	ConversationID  string      `json:"conversation_id"`
	UserID          string      `json:"user_id"`
	Role            policy.Role `json:"role"`
	Status          Status      `json:"status"`
	StartedAt       time.Time   `json:"started_at"`
	InactivityTTLMS int64       `json:"inactivity_ttl_ms"`
}
