package models

import "time"

// ConversationSession stores the conversational backend's opaque context
// for one conversation identity (team/channel/user).
type ConversationSession struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionKey string `gorm:"size:191;not null;uniqueIndex"`
	Context    string `gorm:"type:mediumtext"` // JSON
	Turns      int    `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"index"`
}
