package middleware

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxConversationIDLength = 128

var (
	ErrEmptyMessage          = errors.New("message is empty")
	ErrMessageTooLong        = errors.New("message too long")
	ErrInvalidConversationID = errors.New("invalid conversation id")
)

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SecurityMiddleware provides input checks for chat requests
type SecurityMiddleware struct {
	maxMessageLength int
}

// NewSecurityMiddleware creates security middleware. A non-positive limit disables the length check.
func NewSecurityMiddleware(maxMessageLength int) *SecurityMiddleware {
	return &SecurityMiddleware{maxMessageLength: maxMessageLength}
}

// ValidateMessage trims text and checks it is non-empty and within the rune limit.
func (s *SecurityMiddleware) ValidateMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if s.maxMessageLength > 0 && utf8.RuneCountInString(text) > s.maxMessageLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// ValidateConversationID accepts empty ids (a new one will be generated) or
// short ids made of letters, digits, '_' and '-'.
func (s *SecurityMiddleware) ValidateConversationID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > maxConversationIDLength || !conversationIDPattern.MatchString(id) {
		return ErrInvalidConversationID
	}
	return nil
}
