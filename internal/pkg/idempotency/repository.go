package idempotency

import (
	"time"

	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the idempotency service.
type Repository interface {
	CreateRecordIfNotExists(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error)
	DeleteRecord(id uint) error
	SettleRecord(id uint, status string, responseStatus int, responseBody string) error
	DeleteExpired(now time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an idempotency repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateRecordIfNotExists inserts the record guarded by the composite unique
// index on (idempotency_key, http_method, request_path, actor_id). It returns
// created=true when this call won the insert; otherwise it returns the row
// that already holds the claim.
func (r *gormRepository) CreateRecordIfNotExists(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "idempotency_key"},
			{Name: "http_method"},
			{Name: "request_path"},
			{Name: "actor_id"},
		},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, record, nil
	}

	var existing models.IdempotencyRecord
	err := r.db.
		Where("idempotency_key = ? AND http_method = ? AND request_path = ? AND actor_id = ?",
			record.IdempotencyKey, record.HTTPMethod, record.RequestPath, record.ActorID).
		First(&existing).Error
	if err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *gormRepository) DeleteRecord(id uint) error {
	return r.db.Delete(&models.IdempotencyRecord{}, id).Error
}

func (r *gormRepository) SettleRecord(id uint, status string, responseStatus int, responseBody string) error {
	return r.db.Model(&models.IdempotencyRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"response_status": responseStatus,
			"response_body":   responseBody,
		}).Error
}

func (r *gormRepository) DeleteExpired(now time.Time) (int64, error) {
	tx := r.db.Where("expires_at <= ?", now).Delete(&models.IdempotencyRecord{})
	return tx.RowsAffected, tx.Error
}
