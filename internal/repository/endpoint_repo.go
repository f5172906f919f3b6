package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/domain"
)

type EndpointRepository interface {
	Create(ctx context.Context, e *domain.Endpoint) error
	GetByID(ctx context.Context, appID string, id string) (*domain.Endpoint, error)
	ListByApp(ctx context.Context, appID string) ([]domain.Endpoint, error)
	Update(ctx context.Context, e *domain.Endpoint) error
	Delete(ctx context.Context, appID string, id string) error
}

type GormEndpointRepo struct {
	db *gorm.DB
}

func NewGormEndpointRepo(db *gorm.DB) *GormEndpointRepo {
	return &GormEndpointRepo{db: db}
}

func (r *GormEndpointRepo) Create(ctx context.Context, e *domain.Endpoint) error {
	model := endpointModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err, "endpoint uid")
	}
	if e != nil {
		*e = *endpointModelToDomain(model)
	}
	return nil
}

// GetByID ignores soft deleted endpoints.
func (r *GormEndpointRepo) GetByID(ctx context.Context, appID string, id string) (*domain.Endpoint, error) {
	var model EndpointModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND id = ? AND deleted = ?", appID, id, false).
		First(&model).Error
	if err != nil {
		return nil, translateError(err, "endpoint")
	}
	return endpointModelToDomain(&model), nil
}

func (r *GormEndpointRepo) ListByApp(ctx context.Context, appID string) ([]domain.Endpoint, error) {
	var models []EndpointModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND deleted = ?", appID, false).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	endpoints := make([]domain.Endpoint, 0, len(models))
	for i := range models {
		endpoints = append(endpoints, *endpointModelToDomain(&models[i]))
	}
	return endpoints, nil
}

func (r *GormEndpointRepo) Update(ctx context.Context, e *domain.Endpoint) error {
	if e == nil {
		return fmt.Errorf("%w: endpoint is required", domain.ErrValidation)
	}

	model := endpointModelFromDomain(e)
	result := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("app_id = ? AND id = ? AND deleted = ?", e.AppID, e.ID, false).
		Select("uid", "url", "description", "key", "old_keys", "event_types", "channels", "headers", "disabled", "rate_limit", "updated_at").
		Updates(model)
	if result.Error != nil {
		return translateError(result.Error, "endpoint uid")
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete marks the endpoint deleted. Its destinations and attempts are kept.
func (r *GormEndpointRepo) Delete(ctx context.Context, appID string, id string) error {
	result := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("app_id = ? AND id = ? AND deleted = ?", appID, id, false).
		Update("deleted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
