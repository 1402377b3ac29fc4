package models

import (
	"encoding/json"
	"time"
)

// MessageDirection tells request rows from response rows in the queue.
type MessageDirection int

const (
	DirectionRequest  MessageDirection = 0
	DirectionResponse MessageDirection = 1
)

// MessageType selects which use case a worker runs for a queue row.
type MessageType int

const (
	TypeNoAction         MessageType = 0
	TypeStart            MessageType = 1
	TypeSendMessage      MessageType = 2
	TypeGetUserInfo      MessageType = 3
	TypeCreateNewChat    MessageType = 4
	TypeResetContext     MessageType = 5
	TypeSaveSystemPrompt MessageType = 6
	TypeChangeModel      MessageType = 7
	TypeEnableWebSearch  MessageType = 8
	TypeVoiceMessage     MessageType = 9
	TypeImageMessage     MessageType = 10
	TypeDocumentMessage  MessageType = 11
)

func (t MessageType) String() string {
	switch t {
	case TypeStart:
		return "start"
	case TypeSendMessage:
		return "send_message"
	case TypeGetUserInfo:
		return "get_user_info"
	case TypeCreateNewChat:
		return "create_new_chat"
	case TypeResetContext:
		return "reset_context"
	case TypeSaveSystemPrompt:
		return "save_system_prompt"
	case TypeChangeModel:
		return "change_model"
	case TypeEnableWebSearch:
		return "enable_web_search"
	case TypeVoiceMessage:
		return "voice_message"
	case TypeImageMessage:
		return "image_message"
	case TypeDocumentMessage:
		return "document_message"
	default:
		return "no_action"
	}
}

// MessageStatus is the queue-row processing state.
type MessageStatus int

const (
	StatusNotProcessed MessageStatus = 0
	StatusProcessed    MessageStatus = 1
	StatusProcessing   MessageStatus = 2
	StatusError        MessageStatus = 3
)

// Message is a unit of asynchronous work in the persisted queue.
// Only one worker may hold StatusProcessing for a given row at a time;
// the claim is a conditional update at the storage layer.
type Message struct {
	ID        int64            `gorm:"primaryKey;autoIncrement"`
	UserID    int64            `gorm:"not null;index"`
	ChatIndex int              `gorm:"default:1"`
	MessageID int              `gorm:"default:0"`
	Direction MessageDirection `gorm:"default:0"`
	Type      MessageType      `gorm:"default:0"`
	Status    MessageStatus    `gorm:"default:0;index"`
	ChatID    int64            `gorm:"default:0"`
	Text      string           `gorm:"type:text"`
	Data      string           `gorm:"type:text"`

	SentAt   time.Time
	ParsedAt time.Time

	Worker           *int  `gorm:"index"`
	RelatedMessageID *int64
}

func (Message) TableName() string { return "messages" }

// SetData stores a value in the opaque JSON data payload.
func (m *Message) SetData(key string, value interface{}) {
	data := map[string]interface{}{}
	if m.Data != "" {
		_ = json.Unmarshal([]byte(m.Data), &data)
	}
	data[key] = value
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	m.Data = string(raw)
}

// GetData reads a string value from the opaque JSON data payload.
func (m *Message) GetData(key string) string {
	if m.Data == "" {
		return ""
	}
	data := map[string]interface{}{}
	if err := json.Unmarshal([]byte(m.Data), &data); err != nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// IsRequest reports whether the row came from the user side.
func (m *Message) IsRequest() bool { return m.Direction == DirectionRequest }

// IsResponse reports whether the row is an outbound response.
func (m *Message) IsResponse() bool { return m.Direction == DirectionResponse }
