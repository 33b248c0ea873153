package ledger

import (
	"errors"

	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the ledger service. Post and
// Reverse are the two atomic units: they lock the vendor row, let the
// service compute the entry and the new balance, and persist both together.
type Repository interface {
	GetVendor(vendorID uint) (*models.Vendor, error)
	GetVendorByAPIKeyHash(hash string) (*models.Vendor, error)
	CreateVendor(v *models.Vendor) error
	SaveVendor(v *models.Vendor) error
	ListVendors(limit, offset int) ([]models.Vendor, error)

	GetEntry(entryID uint) (*models.LedgerEntry, error)
	FindPostedChargeByOrder(orderID uint) (*models.LedgerEntry, error)
	ListEntries(vendorID uint, limit, offset int) ([]models.LedgerEntry, error)

	// Post locks the vendor row, invokes build to produce the entry and the
	// updated balance fields, then inserts the entry and saves the vendor in
	// the same transaction.
	Post(vendorID uint, build func(v *models.Vendor) (*models.LedgerEntry, error)) (*models.LedgerEntry, error)

	// PostCreditOnce is Post keyed by paymentID: with the vendor row already
	// locked it looks for a posted credit linked to that payment and, if one
	// exists, returns it without invoking build. Per-vendor postings
	// serialize on the row lock, so a redelivered settlement event can never
	// write a second credit for the same payment.
	PostCreditOnce(vendorID, paymentID uint, build func(v *models.Vendor) (*models.LedgerEntry, error)) (*models.LedgerEntry, error)

	// Reverse does the same with the original entry loaded alongside the
	// locked vendor. mark receives the reversal entry after insertion so the
	// original can be linked and flagged within the transaction.
	Reverse(entryID uint, build func(v *models.Vendor, original *models.LedgerEntry) (*models.LedgerEntry, error)) (*models.LedgerEntry, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetVendor(vendorID uint) (*models.Vendor, error) {
	var v models.Vendor
	err := r.db.First(&v, vendorID).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *gormRepository) GetVendorByAPIKeyHash(hash string) (*models.Vendor, error) {
	var v models.Vendor
	err := r.db.Where("api_key_hash = ?", hash).First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *gormRepository) CreateVendor(v *models.Vendor) error {
	return r.db.Create(v).Error
}

func (r *gormRepository) SaveVendor(v *models.Vendor) error {
	return r.db.Save(v).Error
}

func (r *gormRepository) ListVendors(limit, offset int) ([]models.Vendor, error) {
	var vendors []models.Vendor
	err := r.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&vendors).Error
	return vendors, err
}

func (r *gormRepository) GetEntry(entryID uint) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.db.First(&e, entryID).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) FindPostedChargeByOrder(orderID uint) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.db.
		Where("order_id = ? AND type = ? AND status = ?", orderID, models.LedgerEntryTypeCharge, models.LedgerEntryStatusPosted).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) ListEntries(vendorID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.
		Where("vendor_id = ?", vendorID).
		Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) Post(vendorID uint, build func(v *models.Vendor) (*models.LedgerEntry, error)) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var v models.Vendor
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&v, vendorID).Error; err != nil {
			return err
		}
		e, err := build(&v)
		if err != nil {
			return err
		}
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		if err := tx.Save(&v).Error; err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *gormRepository) PostCreditOnce(vendorID, paymentID uint, build func(v *models.Vendor) (*models.LedgerEntry, error)) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var v models.Vendor
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&v, vendorID).Error; err != nil {
			return err
		}
		var existing models.LedgerEntry
		err := tx.
			Where("vendor_id = ? AND payment_id = ? AND type = ? AND status = ?",
				vendorID, paymentID, models.LedgerEntryTypeCredit, models.LedgerEntryStatusPosted).
			First(&existing).Error
		if err == nil {
			entry = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		e, err := build(&v)
		if err != nil {
			return err
		}
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		if err := tx.Save(&v).Error; err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *gormRepository) Reverse(entryID uint, build func(v *models.Vendor, original *models.LedgerEntry) (*models.LedgerEntry, error)) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var original models.LedgerEntry
		if err := tx.First(&original, entryID).Error; err != nil {
			return err
		}
		var v models.Vendor
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&v, original.VendorID).Error; err != nil {
			return err
		}
		e, err := build(&v, &original)
		if err != nil {
			return err
		}
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		// Link both directions and flag the original, amounts untouched.
		now := e.CreatedAt
		if err := tx.Model(&models.LedgerEntry{}).
			Where("id = ?", original.ID).
			Updates(map[string]interface{}{
				"status":           models.LedgerEntryStatusReversed,
				"related_entry_id": e.ID,
				"reversed_at":      now,
				"reversed_by":      e.CreatedBy,
			}).Error; err != nil {
			return err
		}
		if err := tx.Save(&v).Error; err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
