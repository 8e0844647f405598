package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/courier/internal/models"
)

// GormStore keeps sessions in the conversation_sessions table. Turns are
// serialized across processes with a lease row in session_locks.
type GormStore struct {
	db      *gorm.DB
	lockTTL time.Duration
}

var _ Locker = (*GormStore)(nil)

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB, opts ...Option) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: db is required")
	}
	o := applyOptions(opts)
	return &GormStore{db: db, lockTTL: o.lockTTL}, nil
}

// Lock implements Locker. An expired lease is removed and taken over.
func (s *GormStore) Lock(ctx context.Context, key Key) (func(), error) {
	name := key.String()
	token := uuid.NewString()
	err := acquire(ctx, func() (bool, error) {
		var taken bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now()
			if err := tx.Where("lock_key = ? AND expires_at < ?", name, now).
				Delete(&models.SessionLock{}).Error; err != nil {
				return fmt.Errorf("expire stale lock: %w", err)
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.SessionLock{
				LockKey:   name,
				Token:     token,
				ExpiresAt: now.Add(s.lockTTL),
			})
			if res.Error != nil {
				return fmt.Errorf("take lock: %w", res.Error)
			}
			taken = res.RowsAffected == 1
			return nil
		})
		return taken, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		uctx, cancel := unlockContext(ctx)
		defer cancel()
		// On failure the lease expires after lockTTL.
		_ = s.db.WithContext(uctx).
			Where("lock_key = ? AND token = ?", name, token).
			Delete(&models.SessionLock{}).Error
	}, nil
}

// Load implements Store.
func (s *GormStore) Load(ctx context.Context, key Key) (State, error) {
	var row models.ConversationSession
	err := s.db.WithContext(ctx).Where("session_key = ?", key.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if row.Context == "" {
		return nil, nil
	}
	return State(row.Context), nil
}

// Save implements Store. It upserts on the session key and counts turns.
func (s *GormStore) Save(ctx context.Context, key Key, state State) error {
	now := time.Now()
	row := models.ConversationSession{
		SessionKey: key.String(),
		Context:    string(state),
		Turns:      1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"context":    row.Context,
			"turns":      gorm.Expr("turns + 1"),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Prune deletes sessions not updated since before and returns how many
// were removed.
func (s *GormStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("updated_at < ?", before).Delete(&models.ConversationSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("session: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Turns returns how many turns have been saved for key, or 0 if none.
func (s *GormStore) Turns(ctx context.Context, key Key) (int, error) {
	var row models.ConversationSession
	err := s.db.WithContext(ctx).Select("turns").Where("session_key = ?", key.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("session: turns %s: %w", key, err)
	}
	return row.Turns, nil
}
