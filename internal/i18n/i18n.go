package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

var languages = []string{"en", "el"}

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range languages {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	def := cfg.DefaultLanguage
	if def == "" {
		def = "en"
	}
	return &Localizer{
		bundle:          bundle,
		defaultLanguage: def,
	}, nil
}

// Get returns the message for an Accept-Language header value, falling back
// to the default language and finally to the message ID.
func (l *Localizer) Get(acceptLanguage, messageID string) string {
	localizer := i18n.NewLocalizer(l.bundle, acceptLanguage, l.defaultLanguage)

	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		return messageID
	}
	return msg
}

// Message IDs
const (
	MsgMissingMessage        = "missing_message"
	MsgMessageTooLong        = "message_too_long"
	MsgInvalidJSON           = "invalid_json"
	MsgInvalidConversationID = "invalid_conversation_id"
	MsgUnauthenticated       = "unauthenticated"
	MsgRateLimited           = "rate_limited"
	MsgUpstreamFailure       = "upstream_failure"
	MsgInternalError         = "internal_error"
	MsgNotFound              = "not_found"
	MsgMethodNotAllowed      = "method_not_allowed"
)
