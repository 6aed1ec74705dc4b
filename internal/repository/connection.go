package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
)

type ConnectionRepository interface {
	Create(ctx context.Context, c *entity.Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error)
	GetByOrgService(ctx context.Context, orgID uuid.UUID, service constants.DestinationType) (*entity.Connection, error)
	// RecordFailure writes the failure timestamps and escalates ACTIVE to
	// WARNING once failures have persisted past the escalation window with
	// no intervening success.
	RecordFailure(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	// RecordSuccess atomically clears error state, both failure timestamps,
	// and restores ACTIVE. DISABLED/ARCHIVED connections are left alone.
	RecordSuccess(ctx context.Context, id uuid.UUID) error
	// UpdateTokens re-seals refreshed token material.
	UpdateTokens(ctx context.Context, id uuid.UUID, accessCiphertext, refreshCiphertext []byte, expiry *time.Time) error
	Reactivate(ctx context.Context, id uuid.UUID) error
}

type connectionRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewConnectionRepository(db *gorm.DB, logger *slog.Logger) ConnectionRepository {
	return &connectionRepository{db: db, logger: logger}
}

func (r *connectionRepository) Create(ctx context.Context, c *entity.Connection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = constants.ConnectionStatusActive
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error) {
	var c entity.Connection
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepository) GetByOrgService(ctx context.Context, orgID uuid.UUID, service constants.DestinationType) (*entity.Connection, error) {
	var c entity.Connection
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND service = ? AND status <> ?", orgID, service, constants.ConnectionStatusArchived).
		Order("created_at desc").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepository) RecordFailure(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c entity.Connection
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"last_error":     message,
			"last_failed_at": at,
		}
		first := c.FirstFailedAt
		if first == nil {
			updates["first_failed_at"] = at
			first = &at
		}

		// Escalate only from ACTIVE; WARNING stays WARNING and the terminal
		// states move only on explicit reactivation.
		if c.Status == constants.ConnectionStatusActive && at.Sub(*first) > constants.ConnectionWarningWindow {
			updates["status"] = constants.ConnectionStatusWarning
			r.logger.Warn("connection escalated to warning",
				"connection_id", id, "first_failed_at", *first)
		}

		return tx.Model(&entity.Connection{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (r *connectionRepository) RecordSuccess(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.Connection{}).
		Where("id = ? AND status IN ?", id, []constants.ConnectionStatus{
			constants.ConnectionStatusActive,
			constants.ConnectionStatusWarning,
		}).
		Updates(map[string]any{
			"status":          constants.ConnectionStatusActive,
			"last_error":      "",
			"first_failed_at": nil,
			"last_failed_at":  nil,
		}).Error
}

func (r *connectionRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessCiphertext, refreshCiphertext []byte, expiry *time.Time) error {
	updates := map[string]any{
		"access_ciphertext": accessCiphertext,
		"token_expiry":      expiry,
	}
	if len(refreshCiphertext) > 0 {
		updates["refresh_ciphertext"] = refreshCiphertext
	}
	return r.db.WithContext(ctx).
		Model(&entity.Connection{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *connectionRepository) Reactivate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.Connection{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          constants.ConnectionStatusActive,
			"last_error":      "",
			"first_failed_at": nil,
			"last_failed_at":  nil,
		}).Error
}
