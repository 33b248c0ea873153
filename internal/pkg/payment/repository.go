package payment

import (
	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations for payment rows.
type Repository interface {
	Create(p *models.Payment) error
	GetByIntentID(intentID string) (*models.Payment, error)
	GetByOrderID(orderID uint) (*models.Payment, error)
	Save(p *models.Payment) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) GetByIntentID(intentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("payment_intent_id = ?", intentID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetByOrderID(orderID uint) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("order_id = ?", orderID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) Save(p *models.Payment) error {
	return r.db.Save(p).Error
}
