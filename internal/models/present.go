package models

import (
	"time"
)

// Present is a token gift record created by webhook handling.
// Notified flips false -> true exactly once per delivery.
type Present struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	UserID     int64 `gorm:"not null;index"`
	Tokens     int   `gorm:"not null"`
	Notified   bool  `gorm:"default:false;index"`
	ParsedAt   time.Time
	NotifiedAt *time.Time
}

func (Present) TableName() string { return "presents" }
