package models

import (
	"encoding/json"
	"time"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation represents a conversation's bounded history
type Conversation struct {
	ID           string
	OwnerUID     int64
	Messages     []Message
	LastActivity time.Time
}

// ChatRequest is the body accepted by POST /chat
type ChatRequest struct {
	Message         string          `json:"message"`
	IdentityToken   string          `json:"identity_token,omitempty"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	// MedicalSnapshot is decoded separately; anything but an object is ignored.
	MedicalSnapshot json.RawMessage `json:"medical_snapshot,omitempty"`
	Format          string          `json:"format,omitempty"`
}

// ChatResponse is returned by POST /chat on success
type ChatResponse struct {
	Reply          string `json:"reply"`
	ReplyHTML      string `json:"reply_html,omitempty"`
	ConversationID string `json:"conversation_id"`
}

// ErrorResponse is returned on every failure
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string   `json:"status"`
	Service  string   `json:"service"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
}
