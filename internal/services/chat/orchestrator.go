package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/autoanosis/ai-relay-go/internal/identity"
	"github.com/autoanosis/ai-relay-go/internal/middleware"
	"github.com/autoanosis/ai-relay-go/internal/models"
	"github.com/autoanosis/ai-relay-go/internal/services/ai"
	"github.com/autoanosis/ai-relay-go/internal/services/cache"
	"github.com/autoanosis/ai-relay-go/internal/services/medical"
	"github.com/autoanosis/ai-relay-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// Failure kinds. The HTTP layer maps them to status codes.
const (
	KindMissingMessage        = "missing_message"
	KindMessageTooLong        = "message_too_long"
	KindInvalidConversationID = "invalid_conversation_id"
	KindUnauthenticated       = "unauthenticated"
	KindRateLimited           = "rate_limited"
	KindUpstreamFailure       = "upstream_failure"
)

// Error is a terminal chat failure
type Error struct {
	Kind  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chat: %s: %v", e.Kind, e.Cause)
	}
	return "chat: " + e.Kind
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf returns the chat failure kind of err, or "" for anything else.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var errMissingToken = errors.New("missing identity token")
var errNonceReplayed = errors.New("nonce_replayed")

// upper bound on how long a nonce is remembered, in seconds
const maxNonceLifetime = 7 * 24 * 3600

// Request is one inbound chat turn
type Request struct {
	Message         string
	IdentityToken   string
	ConversationID  string
	MedicalSnapshot map[string]any
	// ClientIP keys the rate limit for guests.
	ClientIP string
}

// Result is a successful chat turn
type Result struct {
	Reply          string
	ConversationID string
	UID            int64
}

// Orchestrator runs a chat turn from token check to persisted reply
type Orchestrator struct {
	secret       []byte
	maxSkew      time.Duration
	allowGuest   bool
	systemPrompt string

	security  *middleware.SecurityMiddleware
	limiter   middleware.RateLimiter
	store     *storage.Manager
	nonces    cache.NonceGuard
	aiService ai.Service
	metrics   *middleware.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

// NewOrchestrator wires the chat pipeline. metrics may be nil.
func NewOrchestrator(
	cfg *config.Config,
	limiter middleware.RateLimiter,
	store *storage.Manager,
	nonces cache.NonceGuard,
	aiService ai.Service,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		secret:       []byte(cfg.Identity.Secret),
		maxSkew:      cfg.Identity.MaxClockSkew,
		allowGuest:   cfg.Identity.AllowGuest,
		systemPrompt: cfg.Chat.SystemPrompt,
		security:     middleware.NewSecurityMiddleware(cfg.Chat.MaxMessageLength),
		limiter:      limiter,
		store:        store,
		nonces:       nonces,
		aiService:    aiService,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Handle processes one chat turn. Every failure is a *Error.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	res, err := o.handle(ctx, req)
	if o.metrics != nil {
		if err != nil {
			o.metrics.RecordChatOutcome(KindOf(err))
		} else {
			o.metrics.RecordChatOutcome("success")
		}
	}
	return res, err
}

func (o *Orchestrator) handle(ctx context.Context, req Request) (*Result, error) {
	now := o.now()

	// received
	text, err := o.security.ValidateMessage(req.Message)
	switch {
	case errors.Is(err, middleware.ErrEmptyMessage):
		return nil, &Error{Kind: KindMissingMessage}
	case errors.Is(err, middleware.ErrMessageTooLong):
		return nil, &Error{Kind: KindMessageTooLong}
	}
	if err := o.security.ValidateConversationID(req.ConversationID); err != nil {
		return nil, &Error{Kind: KindInvalidConversationID, Cause: err}
	}

	// token_checked
	payload, limitKey, err := o.authenticate(req, now)
	if err != nil {
		return nil, err
	}
	var uid int64
	if payload != nil {
		uid = payload.UID
	}

	log := o.logger.WithField("uid", uid)

	// rate_checked
	if !o.limiter.Admit(limitKey, now) {
		if o.metrics != nil {
			o.metrics.RecordRateLimitExceeded()
		}
		return nil, &Error{Kind: KindRateLimited}
	}

	// a throttled turn leaves the nonce unclaimed so the client can retry
	if payload != nil {
		if err := o.claimNonce(payload, now); err != nil {
			return nil, err
		}
	}

	// context_built
	prompt := o.systemPrompt
	if block := medical.Build(req.MedicalSnapshot); block != "" {
		prompt += "\n\n" + block
	}

	// history_merged
	conversationID, history, err := o.resolveHistory(ctx, req.ConversationID, uid, now)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: prompt})
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: text})

	// completion_requested
	reply, err := o.aiService.GetResponse(ctx, messages)
	if err != nil {
		log.WithError(err).WithField("conversationID", conversationID).Error("Failed to get AI response")
		if payload != nil {
			o.nonces.Release(payload.UID, payload.Nonce)
		}
		return nil, &Error{Kind: KindUpstreamFailure, Cause: err}
	}

	// persisted; the completion timestamp keeps the record fresh for the sweep
	done := o.now()
	if err := o.store.Append(ctx, conversationID, uid, models.Message{Role: models.RoleUser, Content: text}, done); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}
	if err := o.store.Append(ctx, conversationID, uid, models.Message{Role: models.RoleAssistant, Content: reply}, done); err != nil {
		return nil, fmt.Errorf("persist assistant turn: %w", err)
	}
	if _, err := o.store.MaybeSweep(ctx, done); err != nil {
		log.WithError(err).Warn("Opportunistic sweep failed")
	}
	if o.metrics != nil {
		o.metrics.SetActiveConversations(o.store.Len())
	}

	log.WithFields(logrus.Fields{
		"conversationID": conversationID,
		"history":        len(history),
		"replyLength":    len(reply),
	}).Info("Chat turn completed")

	// responded
	return &Result{Reply: reply, ConversationID: conversationID, UID: uid}, nil
}

// authenticate returns the verified payload, nil for a guest, and the
// rate-limit key.
func (o *Orchestrator) authenticate(req Request, now time.Time) (*identity.Payload, string, error) {
	if req.IdentityToken == "" {
		if o.allowGuest {
			return nil, "ip:" + req.ClientIP, nil
		}
		o.recordTokenFailure("missing_token")
		return nil, "", &Error{Kind: KindUnauthenticated, Cause: errMissingToken}
	}

	payload, err := identity.Verify(req.IdentityToken, o.secret, o.maxSkew, now)
	if err != nil {
		kind := identity.Kind(err)
		o.logger.WithFields(logrus.Fields{
			"kind":        kind,
			"tokenLength": len(req.IdentityToken),
		}).Warn("Identity token rejected")
		o.recordTokenFailure(kind)
		return nil, "", &Error{Kind: KindUnauthenticated, Cause: err}
	}

	return payload, "uid:" + strconv.FormatInt(payload.UID, 10), nil
}

// claimNonce remembers the token nonce until the token can no longer verify.
func (o *Orchestrator) claimNonce(payload *identity.Payload, now time.Time) error {
	exp := payload.Expires
	if limit := now.Unix() + maxNonceLifetime; exp > limit {
		exp = limit
	}
	expires := time.Unix(exp, 0).Add(o.maxSkew)
	if o.nonces.Claim(payload.UID, payload.Nonce, expires, now) {
		return nil
	}

	o.logger.WithFields(logrus.Fields{
		"kind": errNonceReplayed.Error(),
		"uid":  payload.UID,
	}).Warn("Identity token rejected")
	o.recordTokenFailure(errNonceReplayed.Error())
	return &Error{Kind: KindUnauthenticated, Cause: errNonceReplayed}
}

// resolveHistory returns the id to persist under and the prior turns. A
// conversation owned by someone else is never read; the caller gets a new id.
func (o *Orchestrator) resolveHistory(ctx context.Context, id string, uid int64, now time.Time) (string, []models.Message, error) {
	if id == "" {
		return storage.NewConversationID(now), nil, nil
	}

	conv, err := o.store.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if conv == nil {
		return id, nil, nil
	}
	if conv.OwnerUID != uid {
		o.logger.WithFields(logrus.Fields{
			"uid":            uid,
			"conversationID": id,
		}).Warn("Conversation belongs to another user, starting a new one")
		return storage.NewConversationID(now), nil, nil
	}
	return id, conv.Messages, nil
}

func (o *Orchestrator) recordTokenFailure(kind string) {
	if o.metrics != nil {
		o.metrics.RecordTokenFailure(kind)
	}
}
