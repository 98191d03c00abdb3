package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/autoanosis/ai-relay-go/internal/i18n"
	"github.com/autoanosis/ai-relay-go/internal/middleware"
	"github.com/autoanosis/ai-relay-go/internal/models"
	"github.com/autoanosis/ai-relay-go/internal/services/chat"
	"github.com/autoanosis/ai-relay-go/pkg/logger"
	"github.com/autoanosis/ai-relay-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// Chatter runs one chat turn
type Chatter interface {
	Handle(ctx context.Context, req chat.Request) (*chat.Result, error)
}

// ChatHandler serves POST /chat
type ChatHandler struct {
	chat      Chatter
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatter Chatter, localizer *i18n.Localizer, logger *logrus.Logger) *ChatHandler {
	return &ChatHandler{
		chat:      chatter,
		localizer: localizer,
		logger:    logger,
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := middleware.ClientIP(r)
	log := logger.WithRequest(h.logger, middleware.RequestID(r.Context()), clientIP)

	var body models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		log.WithError(err).Warn("Rejected malformed chat request")
		writeError(w, r, h.localizer, http.StatusBadRequest, i18n.MsgInvalidJSON)
		return
	}

	res, err := h.chat.Handle(r.Context(), chat.Request{
		Message:         body.Message,
		IdentityToken:   body.IdentityToken,
		ConversationID:  body.ConversationID,
		MedicalSnapshot: decodeSnapshot(body.MedicalSnapshot, log),
		ClientIP:        clientIP,
	})
	if err != nil {
		kind := chat.KindOf(err)
		if kind == "" {
			// unexpected; the cause stays in the log
			log.WithError(err).Error("Chat request failed")
			kind = i18n.MsgInternalError
		} else {
			log.WithField("kind", kind).Info("Chat request refused")
		}
		writeError(w, r, h.localizer, statusFor(kind), kind)
		return
	}

	resp := models.ChatResponse{
		Reply:          res.Reply,
		ConversationID: res.ConversationID,
	}
	if body.Format == "html" {
		resp.ReplyHTML = markdown.ToHTML(res.Reply)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeSnapshot returns the snapshot object, or nil when it is absent or not
// a JSON object. A bad snapshot never fails the turn.
func decodeSnapshot(raw json.RawMessage, log *logrus.Entry) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		log.WithError(err).Debug("Ignoring malformed medical snapshot")
		return nil
	}
	return snapshot
}

func statusFor(kind string) int {
	switch kind {
	case chat.KindMissingMessage, chat.KindMessageTooLong, chat.KindInvalidConversationID:
		return http.StatusBadRequest
	case chat.KindUnauthenticated:
		return http.StatusUnauthorized
	case chat.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
