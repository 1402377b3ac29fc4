package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/bothub-tgbot-go/internal/config"
)

// Localizer resolves user-facing texts by language code.
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Russian)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns the localized message, falling back to the default language
// and finally to the message id itself.
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}

	return msg
}

// Message IDs
const (
	MsgWelcome             = "welcome"
	MsgHelp                = "help"
	MsgNewChatCreated      = "new_chat_created"
	MsgContextReset        = "context_reset"
	MsgModelChanged        = "model_changed"
	MsgSystemPromptSaved   = "system_prompt_saved"
	MsgAskSystemPrompt     = "ask_system_prompt"
	MsgAskChatModel        = "ask_chat_model"
	MsgAskImageModel       = "ask_image_model"
	MsgConnectionLink      = "connection_link"
	MsgPresentNotification = "present_notification"
	MsgNotEnoughTokens     = "not_enough_tokens"
	MsgUnavailable         = "unavailable"
	MsgGenericError        = "generic_error"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgVoiceNotRecognized  = "voice_not_recognized"
	MsgProcessing          = "processing"
)
