package models

import "time"

// BotRegistration is a team's installed bot credential, written by the OAuth
// registration flow and read by the event pipeline. A team has at most one
// row; registering again replaces it.
type BotRegistration struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TeamID      string `gorm:"size:32;not null;index"`
	TeamName    string `gorm:"size:128"`
	BotUserID   string `gorm:"size:32"`
	BotID       string `gorm:"size:32"`
	AccessToken string `gorm:"size:255;not null"`
	Scope       string `gorm:"size:512"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
