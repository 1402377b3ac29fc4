package models

import (
	"encoding/json"
	"time"
)

// Chat is one user's session slot. Indexes 1..4 are the fixed quick-chat
// slots, 5 is the dedicated text-editing slot, anything above is a
// user-created named chat.
type Chat struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	UserID    int64 `gorm:"not null;uniqueIndex:idx_user_chat_index,priority:1"`
	ChatIndex int   `gorm:"not null;uniqueIndex:idx_user_chat_index,priority:2"`

	// Remote ids stay empty until the first successful remote chat creation.
	BothubChatID    string `gorm:"type:varchar(64)"`
	BothubChatModel string `gorm:"type:varchar(128)"`

	ContextRemember bool `gorm:"default:true"`
	ContextCounter  int  `gorm:"default:0"`
	LinksParse      bool `gorm:"default:false"`
	FormulaToImage  bool `gorm:"default:false"`
	AnswerToVoice   bool `gorm:"default:false"`

	Name         string `gorm:"type:varchar(255)"`
	SystemPrompt string `gorm:"type:text"`
	Buffer       string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Chat) TableName() string { return "chats" }

// IncrementContextCounter bumps the counter when context remembering is on.
func (c *Chat) IncrementContextCounter() {
	if c.ContextRemember {
		c.ContextCounter++
	}
}

// ResetContextCounter zeroes the counter after an explicit context reset.
func (c *Chat) ResetContextCounter() {
	c.ContextCounter = 0
}

type bufferMessage struct {
	Text            string `json:"text,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	DisplayFileName string `json:"displayFileName,omitempty"`
}

type chatBuffer struct {
	Messages []bufferMessage `json:"messages,omitempty"`
}

// AddToBuffer appends a pending message fragment to the chat buffer.
func (c *Chat) AddToBuffer(text, fileName, displayFileName string) {
	if text == "" && fileName == "" && displayFileName == "" {
		return
	}
	var buf chatBuffer
	if c.Buffer != "" {
		_ = json.Unmarshal([]byte(c.Buffer), &buf)
	}
	buf.Messages = append(buf.Messages, bufferMessage{
		Text:            text,
		FileName:        fileName,
		DisplayFileName: displayFileName,
	})
	data, err := json.Marshal(buf)
	if err != nil {
		return
	}
	c.Buffer = string(data)
}

// RefreshBuffer clears any buffered message fragments.
func (c *Chat) RefreshBuffer() {
	c.Buffer = ""
}
