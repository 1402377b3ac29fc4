package bothub

// Typed views over the remote API's dynamic JSON payloads. Optional fields
// match the variability observed on the wire; decoding happens once at the
// client boundary so everything above it works with typed data.

// AuthResponse is the payload of POST auth/telegram.
type AuthResponse struct {
	AccessToken string   `json:"accessToken"`
	User        AuthUser `json:"user"`
}

// AuthUser is the account snapshot embedded in an auth response. Groups, when
// present, let callers short-cut group/chat bootstrap.
type AuthUser struct {
	ID     string      `json:"id"`
	Email  string      `json:"email,omitempty"`
	Groups []AuthGroup `json:"groups,omitempty"`
}

// AuthGroup is a remote chat group owned by the account.
type AuthGroup struct {
	ID    string     `json:"id"`
	Chats []AuthChat `json:"chats,omitempty"`
}

// AuthChat is a remote chat summary inside an auth group.
type AuthChat struct {
	ID      string `json:"id"`
	ModelID string `json:"modelId,omitempty"`
}

// ModelInfo is one entry of GET model/list.
type ModelInfo struct {
	ID        string   `json:"id"`
	Label     string   `json:"label,omitempty"`
	ParentID  string   `json:"parent_id,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`
	Features  []string `json:"features,omitempty"`
	IsDefault bool     `json:"is_default,omitempty"`
	IsAllowed bool     `json:"is_allowed,omitempty"`
}

// HasFeature reports whether the catalog entry carries the feature tag.
func (m *ModelInfo) HasFeature(feature string) bool {
	for _, f := range m.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// GroupResponse is the payload of POST group.
type GroupResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ChatResponse is the payload of POST chat.
type ChatResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	ModelID string `json:"modelId,omitempty"`
}

// ChatSettings mirrors PATCH chat/{id}/settings.
type ChatSettings struct {
	Model            string  `json:"model"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	IncludeContext   bool    `json:"include_context"`
	SystemPrompt     string  `json:"system_prompt"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
}

// DefaultChatSettings returns settings with the sampling defaults the remote
// side expects when nothing was customized.
func DefaultChatSettings(model string, includeContext bool, systemPrompt string) ChatSettings {
	return ChatSettings{
		Model:          model,
		IncludeContext: includeContext,
		SystemPrompt:   systemPrompt,
		Temperature:    0.7,
		TopP:           1.0,
	}
}

// Attachment is a generated file reference inside a send-message response.
type Attachment struct {
	File    string   `json:"file"`
	FileID  string   `json:"file_id"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Button is an inline action attached to a generated image.
type Button struct {
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
	Action string `json:"action,omitempty"`
}

// SendResult is the normalized payload of POST message/send.
type SendResult struct {
	Content     string
	Attachments []Attachment
	Tokens      int
}

// ConnectionTokenResponse is the payload of GET auth/telegram-connection-token.
type ConnectionTokenResponse struct {
	TelegramConnectionToken string `json:"telegramConnectionToken"`
}

// PlanInfo is one entry of the remote plan list.
type PlanInfo struct {
	ID       string  `json:"id"`
	Type     string  `json:"type,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Tokens   int64   `json:"tokens,omitempty"`
}
