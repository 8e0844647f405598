package models

import "time"

// SessionLock is a lease on one conversation, held by a process while it
// runs a turn. A row past ExpiresAt may be taken over.
type SessionLock struct {
	LockKey   string    `gorm:"primaryKey;size:191"`
	Token     string    `gorm:"size:36;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}
