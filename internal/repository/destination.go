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

type DestinationRepository interface {
	Create(ctx context.Context, d *entity.Destination) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Destination, error)
	ListRunning(ctx context.Context, orgID uuid.UUID) ([]*entity.Destination, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DestinationStatus) error
	UpdateConfig(ctx context.Context, id uuid.UUID, config []byte) error
	RecordSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordSyncFailure(ctx context.Context, id uuid.UUID, message string, at time.Time) error
}

type destinationRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewDestinationRepository(db *gorm.DB, logger *slog.Logger) DestinationRepository {
	return &destinationRepository{db: db, logger: logger}
}

func (r *destinationRepository) Create(ctx context.Context, d *entity.Destination) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = constants.DestinationStatusRunning
	}
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *destinationRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Destination, error) {
	var d entity.Destination
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *destinationRepository) ListRunning(ctx context.Context, orgID uuid.UUID) ([]*entity.Destination, error) {
	var out []*entity.Destination
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND status = ?", orgID, constants.DestinationStatusRunning).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (r *destinationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DestinationStatus) error {
	return r.db.WithContext(ctx).
		Model(&entity.Destination{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *destinationRepository) UpdateConfig(ctx context.Context, id uuid.UUID, config []byte) error {
	return r.db.WithContext(ctx).
		Model(&entity.Destination{}).
		Where("id = ?", id).
		Update("config", config).Error
}

func (r *destinationRepository) RecordSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.Destination{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_synced_at":  at,
			"last_error":      "",
			"first_failed_at": nil,
			"last_failed_at":  nil,
		}).Error
}

func (r *destinationRepository) RecordSyncFailure(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d entity.Destination
		if err := tx.First(&d, "id = ?", id).Error; err != nil {
			return err
		}
		updates := map[string]any{
			"last_error":     message,
			"last_failed_at": at,
		}
		if d.FirstFailedAt == nil {
			updates["first_failed_at"] = at
		}
		return tx.Model(&entity.Destination{}).Where("id = ?", id).Updates(updates).Error
	})
}
