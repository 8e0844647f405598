package models

import "time"

// EventRecord is the enriched, append-only history entry written at the end
// of a pipeline run that posted a reply.
type EventRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	EventKey     string    `gorm:"size:191;not null;index"`
	TeamID       string    `gorm:"size:32;not null;index:idx_team_created"`
	TeamName     string    `gorm:"size:128"`
	ChannelID    string    `gorm:"size:32"`
	ChannelName  string    `gorm:"size:128"`
	UserID       string    `gorm:"size:32"`
	UserName     string    `gorm:"size:128"`
	UserRealName string    `gorm:"size:128"`
	Type         string    `gorm:"size:32"`
	SubType      string    `gorm:"size:32"`
	Text         string    `gorm:"type:text"`
	TS           string    `gorm:"size:32"`
	Datetime     string    `gorm:"size:32"` // human-readable TS, UTC
	Reply        string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index:idx_team_created"`
}

// ProcessedEvent marks an inbound event as claimed by a pipeline run so that
// platform redelivery of the same event does not produce a second reply.
type ProcessedEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	EventKey  string    `gorm:"size:191;not null;uniqueIndex"`
	TeamID    string    `gorm:"size:32;not null"`
	CreatedAt time.Time `gorm:"index"`
}
