package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/marketsub/app/models"
)

// Repository provides DB operations for the order event inbox.
type Repository interface {
	CreateEventIfNotExists(ctx context.Context, event *models.OrderEvent) (bool, *models.OrderEvent, error)
	FindEvent(ctx context.Context, id uint) (*models.OrderEvent, error)
	MarkEventProcessed(ctx context.Context, id uint, at time.Time, processingError string) error
	ListEvents(ctx context.Context, filter EventFilter) ([]models.OrderEvent, error)
}

// EventFilter narrows inbox listings. Zero values mean no restriction.
type EventFilter struct {
	Source          string
	UnprocessedOnly bool
	FailedOnly      bool
	Limit           int
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an inbox repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateEventIfNotExists(ctx context.Context, event *models.OrderEvent) (bool, *models.OrderEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "delivery_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.OrderEvent
	if err := db.Where("source = ? AND delivery_id = ?", event.Source, event.DeliveryID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) FindEvent(ctx context.Context, id uint) (*models.OrderEvent, error) {
	var event models.OrderEvent
	err := r.db.WithContext(ctx).First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkEventProcessed(ctx context.Context, id uint, at time.Time, processingError string) error {
	updates := map[string]interface{}{
		"processed_at":     at,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.OrderEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ListEvents(ctx context.Context, filter EventFilter) ([]models.OrderEvent, error) {
	q := r.db.WithContext(ctx).Order("id DESC")
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.UnprocessedOnly {
		q = q.Where("processed_at IS NULL")
	}
	if filter.FailedOnly {
		q = q.Where("processing_error <> ''")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.OrderEvent
	err := q.Limit(limit).Find(&events).Error
	return events, err
}
