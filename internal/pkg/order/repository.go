package order

import (
	"time"

	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the order service. Methods that
// participate in a state transition run against the transaction handle the
// service passes in through runInTx.
type Repository interface {
	CreateOrder(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	GetByReference(reference string) (*models.Order, error)
	GetByReferenceForUpdate(reference string) (*models.Order, error)
	GetByEsimgoOrderID(esimgoOrderID string) (*models.Order, error)
	Save(order *models.Order) error
	ListStale(statuses []models.OrderStatus, olderThan time.Time, limit int) ([]models.Order, error)
	ListByVendor(vendorID uint, limit, offset int) ([]models.Order, error)
	ListByUser(userID uint, limit, offset int) ([]models.Order, error)
	CreateEsim(esim *models.Esim) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an order repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateOrder(order *models.Order) error {
	return r.db.Create(order).Error
}

func (r *gormRepository) GetByID(id uint) (*models.Order, error) {
	var o models.Order
	err := r.db.First(&o, id).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetByReference(reference string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("order_reference = ?", reference).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByReferenceForUpdate takes the per-order row lock. All transitions for
// one order serialize on this lock, so concurrent webhook deliveries cannot
// race past each other.
func (r *gormRepository) GetByReferenceForUpdate(reference string) (*models.Order, error) {
	var o models.Order
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_reference = ?", reference).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetByEsimgoOrderID(esimgoOrderID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("esimgo_order_id = ?", esimgoOrderID).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) Save(order *models.Order) error {
	return r.db.Save(order).Error
}

func (r *gormRepository) ListStale(statuses []models.OrderStatus, olderThan time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) ListByVendor(vendorID uint, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("vendor_id = ?", vendorID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) ListByUser(userID uint, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) CreateEsim(esim *models.Esim) error {
	return r.db.Create(esim).Error
}
