package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kursadbilgin/hookline/internal/domain"
)

type DestinationRepository interface {
	// CreateMissing inserts destinations, leaving existing (message, endpoint)
	// pairs untouched.
	CreateMissing(ctx context.Context, destinations []domain.MessageDestination) error
	GetByMessageAndEndpoint(ctx context.Context, msgID string, endpointID string) (*domain.MessageDestination, error)
	UpdateStatus(ctx context.Context, id string, status domain.MessageStatus, nextAttempt *time.Time) error
	// ListFailedSince returns Fail destinations of the endpoint created at or
	// after since, oldest first.
	ListFailedSince(ctx context.Context, endpointID string, since time.Time) ([]domain.MessageDestination, error)
}

type GormDestinationRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormDestinationRepo(db *gorm.DB) *GormDestinationRepo {
	return &GormDestinationRepo{db: db, now: time.Now}
}

func (r *GormDestinationRepo) CreateMissing(ctx context.Context, destinations []domain.MessageDestination) error {
	if len(destinations) == 0 {
		return nil
	}

	models := make([]DestinationModel, 0, len(destinations))
	for i := range destinations {
		models = append(models, *destinationModelFromDomain(&destinations[i]))
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "msg_id"}, {Name: "endpoint_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, 100).Error
}

func (r *GormDestinationRepo) GetByMessageAndEndpoint(ctx context.Context, msgID string, endpointID string) (*domain.MessageDestination, error) {
	var model DestinationModel
	err := r.db.WithContext(ctx).
		Where("msg_id = ? AND endpoint_id = ?", msgID, endpointID).
		First(&model).Error
	if err != nil {
		return nil, translateError(err, "destination")
	}
	return destinationModelToDomain(&model), nil
}

func (r *GormDestinationRepo) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus, nextAttempt *time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DestinationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"next_attempt": nextAttempt,
			"updated_at":   r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDestinationRepo) ListFailedSince(ctx context.Context, endpointID string, since time.Time) ([]domain.MessageDestination, error) {
	var models []DestinationModel
	err := r.db.WithContext(ctx).
		Where("endpoint_id = ? AND status = ? AND created_at >= ?", endpointID, domain.StatusFail, since).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	destinations := make([]domain.MessageDestination, 0, len(models))
	for i := range models {
		destinations = append(destinations, *destinationModelToDomain(&models[i]))
	}
	return destinations, nil
}
