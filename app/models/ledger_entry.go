package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry types and statuses. Entries are append-only: a posted entry
// is never updated except to flag it as reversed by a later entry.
const (
	LedgerEntryTypeCharge     = "charge"
	LedgerEntryTypeCredit     = "credit"
	LedgerEntryTypeRefund     = "refund"
	LedgerEntryTypeAdjustment = "adjustment"
	LedgerEntryTypeReversal   = "reversal"

	LedgerEntryStatusPosted   = "posted"
	LedgerEntryStatusReversed = "reversed"
)

// LedgerEntry records a single signed balance movement for a vendor.
// BalanceAfter snapshots the vendor's available balance after this entry,
// which makes the per-vendor sequence self-verifying.
type LedgerEntry struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	VendorID uint   `gorm:"not null;index:idx_ledger_entries_vendor_created,priority:1" json:"vendor_id"`
	Type     string `gorm:"type:varchar(16);not null;index" json:"type"`

	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency     string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`

	Status string `gorm:"type:varchar(16);not null;default:'posted'" json:"status"`

	OrderID        *uint `gorm:"index" json:"order_id,omitempty"`
	PaymentID      *uint `gorm:"index" json:"payment_id,omitempty"`
	RelatedEntryID *uint `gorm:"index" json:"related_entry_id,omitempty"`

	Description     string `gorm:"type:varchar(255);default:''" json:"description"`
	ReferenceNumber string `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference_number"`

	CreatedBy  string     `gorm:"type:varchar(64);default:''" json:"created_by,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index:idx_ledger_entries_vendor_created,priority:2" json:"created_at"`
	ReversedAt *time.Time `gorm:"type:timestamp;default:null" json:"reversed_at,omitempty"`
	ReversedBy string     `gorm:"type:varchar(64);default:''" json:"reversed_by,omitempty"`
}

// IsDebit reports whether this entry reduced the vendor's available balance.
func (e *LedgerEntry) IsDebit() bool {
	return e.Amount.IsNegative()
}
