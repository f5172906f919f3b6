package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/domain"
)

type MessageRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByUID(ctx context.Context, appID string, uid string) (*domain.Message, error)
	// CreateWithDestinations inserts the message and its fan-out rows in one
	// transaction.
	CreateWithDestinations(ctx context.Context, msg *domain.Message, destinations []domain.MessageDestination) error
	// ScrubExpiredPayloads nulls up to limit payloads whose expiration is
	// before now and returns how many rows changed.
	ScrubExpiredPayloads(ctx context.Context, now time.Time, limit int) (int64, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "message")
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) GetByUID(ctx context.Context, appID string, uid string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND uid = ?", appID, uid).
		First(&model).Error
	if err != nil {
		return nil, translateError(err, "message")
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) CreateWithDestinations(ctx context.Context, msg *domain.Message, destinations []domain.MessageDestination) error {
	model := messageModelFromDomain(msg)
	if model == nil {
		return fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	destModels := make([]DestinationModel, 0, len(destinations))
	for i := range destinations {
		destModels = append(destModels, *destinationModelFromDomain(&destinations[i]))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(destModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&destModels, 100).Error
	})
	if err != nil {
		return translateError(err, "message uid")
	}

	*msg = *messageModelToDomain(model)
	return nil
}

func (r *GormMessageRepo) ScrubExpiredPayloads(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit < 1 {
		limit = 1000
	}

	ids := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Select("id").
		Where("expiration <= ? AND payload IS NOT NULL", now).
		Order("expiration ASC").
		Limit(limit)

	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id IN (?)", ids).
		Update("payload", nil)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
