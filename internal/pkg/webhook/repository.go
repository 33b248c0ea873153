package webhook

import (
	"time"

	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by webhook ingestion and
// processing.
type Repository interface {
	CreateEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetEvent(id uint) (*models.WebhookEvent, error)
	MarkProcessed(id uint, orderID, paymentID *uint, note string, at time.Time) error
	RecordFailure(id uint, processingError string, at time.Time) error
	ListRetryEligible(maxAttempts, limit int) ([]models.WebhookEvent, error)
	ListExhausted(maxAttempts, limit, offset int) ([]models.WebhookEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a webhook repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateEventIfNotExists inserts guarded by the unique (source, event_id)
// index. created=false means the event was already received; the stored row
// is returned in that case.
func (r *gormRepository) CreateEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, event, nil
	}

	var existing models.WebhookEvent
	err := r.db.Where("source = ? AND event_id = ?", event.Source, event.EventID).First(&existing).Error
	if err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *gormRepository) GetEvent(id uint) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := r.db.First(&e, id).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) MarkProcessed(id uint, orderID, paymentID *uint, note string, at time.Time) error {
	updates := map[string]interface{}{
		"processed":        true,
		"processed_at":     at,
		"processing_error": note,
	}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) RecordFailure(id uint, processingError string, at time.Time) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_attempts":     gorm.Expr("processing_attempts + 1"),
			"last_processing_attempt": at,
			"processing_error":        processingError,
		}).Error
}

func (r *gormRepository) ListRetryEligible(maxAttempts, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.
		Where("processed = ? AND processing_attempts < ?", false, maxAttempts).
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListExhausted returns events that used up their attempts, for the
// operator review endpoint.
func (r *gormRepository) ListExhausted(maxAttempts, limit, offset int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.
		Where("processed = ? AND processing_attempts >= ?", false, maxAttempts).
		Order("received_at ASC").
		Limit(limit).Offset(offset).
		Find(&events).Error
	return events, err
}
