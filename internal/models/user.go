package models

import (
	"time"
)

// User bridges a Telegram identity and a BotHub account.
type User struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	TelegramID   string `gorm:"type:varchar(32);uniqueIndex;not null"`
	FirstName    string `gorm:"type:varchar(255)"`
	LastName     string `gorm:"type:varchar(255)"`
	Username     string `gorm:"type:varchar(255)"`
	Email        string `gorm:"type:varchar(255)"`
	LanguageCode string `gorm:"type:varchar(8);default:'en'"`

	// BotHub account linkage. AccessToken and AccessTokenCreatedAt are
	// always written together.
	BothubID                   string     `gorm:"type:varchar(64);index"`
	BothubGroupID              string     `gorm:"type:varchar(64)"`
	BothubAccessToken          string     `gorm:"type:text"`
	BothubAccessTokenCreatedAt *time.Time

	CurrentChatIndex    int `gorm:"default:1"`
	CurrentChatListPage int `gorm:"default:1"`

	GPTModel             string `gorm:"type:varchar(128)"`
	ImageGenerationModel string `gorm:"type:varchar(128)"`

	FormulaToImage  bool `gorm:"default:false"`
	LinksParse      bool `gorm:"default:false"`
	ContextRemember bool `gorm:"default:true"`
	AnswerToVoice   bool `gorm:"default:false"`

	State        string `gorm:"type:varchar(64)"`
	ReferralCode string `gorm:"type:varchar(64)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }

// DisplayName returns the name presented to the remote API on authorization.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return "Telegram User"
}

// SetAccessToken stores a fresh token together with its creation time.
func (u *User) SetAccessToken(token string, createdAt time.Time) {
	u.BothubAccessToken = token
	u.BothubAccessTokenCreatedAt = &createdAt
}

// ClearAccessToken drops the cached token, forcing re-authorization on next use.
func (u *User) ClearAccessToken() {
	u.BothubAccessToken = ""
	u.BothubAccessTokenCreatedAt = nil
}
