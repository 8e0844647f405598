// Package credential resolves and records per-team bot credentials.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the team has no active registration.
	ErrNotFound = errors.New("credential: no registration for team")
	// ErrDuplicate means more than one registration exists for the team.
	// The registration flow prunes stale rows, so this indicates a broken
	// install that needs operator attention.
	ErrDuplicate = errors.New("credential: multiple registrations for team")
)

// Credential is a team's bot access token plus the platform-assigned bot
// identity. The token is redacted from String and slog output.
type Credential struct {
	TeamID      string
	TeamName    string
	AccessToken string
	BotUserID   string
	BotID       string
	Scope       string
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{team=%s bot_user=%s token=%s}", c.TeamID, c.BotUserID, redact(c.AccessToken))
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("team_id", c.TeamID),
		slog.String("bot_user_id", c.BotUserID),
		slog.String("token", redact(c.AccessToken)),
	)
}

func redact(token string) string {
	if token == "" {
		return ""
	}
	return "[redacted]"
}

// Registration is the input to Register, produced by the OAuth flow.
type Registration struct {
	TeamID      string
	TeamName    string
	AccessToken string
	BotUserID   string
	BotID       string
	Scope       string
}

// Store reads and writes BotRegistration rows.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("credential: db is required")
	}
	return &Store{db: db}, nil
}

// Resolve returns the credential for teamID. It returns ErrNotFound when the
// team is not registered and ErrDuplicate when more than one row exists.
// Any other error means the store could not be read.
func (s *Store) Resolve(ctx context.Context, teamID string) (*Credential, error) {
	if teamID == "" {
		return nil, ErrNotFound
	}
	var rows []models.BotRegistration
	if err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("id").Limit(2).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("credential: resolve team %s: %w", teamID, err)
	}
	switch len(rows) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return fromModel(rows[0]), nil
	default:
		return nil, ErrDuplicate
	}
}

// Register stores reg as the team's only registration, replacing any
// previous ones in a single transaction.
func (s *Store) Register(ctx context.Context, reg Registration) (*Credential, error) {
	if reg.TeamID == "" {
		return nil, fmt.Errorf("credential: register: team id is required")
	}
	if reg.AccessToken == "" {
		return nil, fmt.Errorf("credential: register: access token is required")
	}

	row := models.BotRegistration{
		TeamID:      reg.TeamID,
		TeamName:    reg.TeamName,
		BotUserID:   reg.BotUserID,
		BotID:       reg.BotID,
		AccessToken: reg.AccessToken,
		Scope:       reg.Scope,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("team_id = ?", reg.TeamID).Delete(&models.BotRegistration{}).Error; err != nil {
			return fmt.Errorf("remove previous registrations: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create registration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credential: register team %s: %w", reg.TeamID, err)
	}
	return fromModel(row), nil
}

// Deregister removes every registration for teamID. Returns ErrNotFound if
// there was nothing to remove.
func (s *Store) Deregister(ctx context.Context, teamID string) error {
	result := s.db.WithContext(ctx).Where("team_id = ?", teamID).Delete(&models.BotRegistration{})
	if result.Error != nil {
		return fmt.Errorf("credential: deregister team %s: %w", teamID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all registrations ordered by team id. Tokens are included;
// callers must not print them.
func (s *Store) List(ctx context.Context) ([]Credential, error) {
	var rows []models.BotRegistration
	if err := s.db.WithContext(ctx).Order("team_id, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("credential: list: %w", err)
	}
	out := make([]Credential, 0, len(rows))
	for _, r := range rows {
		out = append(out, *fromModel(r))
	}
	return out, nil
}

func fromModel(r models.BotRegistration) *Credential {
	return &Credential{
		TeamID:      r.TeamID,
		TeamName:    r.TeamName,
		AccessToken: r.AccessToken,
		BotUserID:   r.BotUserID,
		BotID:       r.BotID,
		Scope:       r.Scope,
	}
}
