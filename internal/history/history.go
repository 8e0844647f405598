// Package history stores enriched event records and the processed-event
// ledger used to drop redelivered events.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/courier/internal/models"
)

// Store is the gorm-backed history store.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: db is required")
	}
	return &Store{db: db}, nil
}

// Append inserts rec, assigning an ID when it has none. Records are never
// updated.
func (s *Store) Append(ctx context.Context, rec *models.EventRecord) error {
	if rec == nil {
		return fmt.Errorf("history: append: record is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("history: append %s: %w", rec.EventKey, err)
	}
	return nil
}

// Claim marks key as processed. It returns false when key was already
// claimed by an earlier run.
func (s *Store) Claim(ctx context.Context, key, teamID string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("history: claim: event key is required")
	}
	row := models.ProcessedEvent{EventKey: key, TeamID: teamID}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_key"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("history: claim %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release removes a claim so a redelivery of the event can be processed.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("event_key = ?", key).Delete(&models.ProcessedEvent{}).Error; err != nil {
		return fmt.Errorf("history: release %s: %w", key, err)
	}
	return nil
}

// Prune deletes claims older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("history: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Recent returns up to limit records for teamID, newest first.
func (s *Store) Recent(ctx context.Context, teamID string, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []models.EventRecord
	err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("history: recent %s: %w", teamID, err)
	}
	return recs, nil
}
