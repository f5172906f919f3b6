package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/domain"
)

// AttemptRepository stores the append-only attempt log.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.MessageAttempt) error
	ListByMessage(ctx context.Context, msgID string, filter domain.AttemptFilter) ([]domain.MessageAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.MessageAttempt) error {
	if a == nil {
		return fmt.Errorf("%w: nil attempt", domain.ErrInvariant)
	}
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to insert attempt for %s: %w", a.DestinationID, err)
	}
	*a = *attemptModelToDomain(model)
	return nil
}

// ListByMessage returns attempts oldest first.
func (r *GormAttemptRepo) ListByMessage(ctx context.Context, msgID string, filter domain.AttemptFilter) ([]domain.MessageAttempt, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Where("msg_id = ?", msgID)
	if filter.EndpointID != "" {
		query = query.Where("endpoint_id = ?", filter.EndpointID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", int16(*filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []AttemptModel
	if err := query.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list attempts for %s: %w", msgID, err)
	}

	attempts := make([]domain.MessageAttempt, len(models))
	for i := range models {
		attempts[i] = *attemptModelToDomain(&models[i])
	}
	return attempts, nil
}
