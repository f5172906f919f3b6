package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/domain"
)

type ApplicationRepository interface {
	Create(ctx context.Context, a *domain.Application) error
	GetByID(ctx context.Context, orgID string, id string) (*domain.Application, error)
	// GetSnapshot loads the application with every endpoint that is not deleted.
	GetSnapshot(ctx context.Context, orgID string, id string) (*domain.ApplicationSnapshot, error)
}

type GormApplicationRepo struct {
	db *gorm.DB
}

func NewGormApplicationRepo(db *gorm.DB) *GormApplicationRepo {
	return &GormApplicationRepo{db: db}
}

func (r *GormApplicationRepo) Create(ctx context.Context, a *domain.Application) error {
	model := applicationModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err, "application uid")
	}
	if a != nil {
		*a = *applicationModelToDomain(model)
	}
	return nil
}

func (r *GormApplicationRepo) GetByID(ctx context.Context, orgID string, id string) (*domain.Application, error) {
	var model ApplicationModel
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&model).Error
	if err != nil {
		return nil, translateError(err, "application")
	}
	return applicationModelToDomain(&model), nil
}

func (r *GormApplicationRepo) GetSnapshot(ctx context.Context, orgID string, id string) (*domain.ApplicationSnapshot, error) {
	app, err := r.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	var models []EndpointModel
	err = r.db.WithContext(ctx).
		Where("app_id = ? AND deleted = ?", id, false).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	snapshot := &domain.ApplicationSnapshot{
		Application: *app,
		Endpoints:   make([]domain.Endpoint, 0, len(models)),
	}
	for i := range models {
		snapshot.Endpoints = append(snapshot.Endpoints, *endpointModelToDomain(&models[i]))
	}
	return snapshot, nil
}
