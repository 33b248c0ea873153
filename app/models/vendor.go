package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// Vendor billing modes and account statuses.
const (
	BillingModePrepaid  = "prepaid"
	BillingModePostpaid = "postpaid"

	VendorStatusPendingApproval = "pending_approval"
	VendorStatusActive          = "active"
	VendorStatusSuspended       = "suspended"
)

// Vendor is a B2B reseller account. The balance fields (WalletBalance for
// prepaid, OutstandingBalance for postpaid) are written exclusively by the
// ledger service, in the same transaction as the ledger entry they reflect.
type Vendor struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	CompanyName string `gorm:"type:varchar(200);default:''" json:"company_name"`
	Email       string `gorm:"type:varchar(200);not null;uniqueIndex" json:"email" validate:"required,email"`

	BillingMode string `gorm:"type:varchar(16);not null;default:'prepaid'" json:"billing_mode" validate:"oneof=prepaid postpaid"`
	Status      string `gorm:"type:varchar(32);not null;default:'pending_approval';index" json:"status"`
	Currency    string `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`

	WalletBalance      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"wallet_balance"`
	CreditLimit        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"credit_limit"`
	OutstandingBalance decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"outstanding_balance"`

	DailyOrderLimit   int             `gorm:"default:0" json:"daily_order_limit"`
	MonthlyOrderLimit int             `gorm:"default:0" json:"monthly_order_limit"`
	DailySpendLimit   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"daily_spend_limit"`
	MonthlySpendLimit decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"monthly_spend_limit"`

	IsVerified   bool `gorm:"default:false" json:"is_verified"`
	KycCompleted bool `gorm:"default:false" json:"kyc_completed"`
	APIEnabled   bool `gorm:"default:true" json:"api_enabled"`

	APIKeyHash    string `gorm:"type:varchar(64);default:'';index" json:"-"`
	WebhookSecret string `gorm:"type:varchar(128);default:''" json:"-"`

	Notes     string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AvailableBalance returns the spendable amount under the current billing
// mode: the wallet for prepaid vendors, the remaining credit for postpaid.
func (v *Vendor) AvailableBalance() decimal.Decimal {
	if v.BillingMode == BillingModePostpaid {
		return v.CreditLimit.Sub(v.OutstandingBalance)
	}
	return v.WalletBalance
}

// HasSufficientBalance reports whether a charge of amount would keep the
// vendor's balance non-negative.
func (v *Vendor) HasSufficientBalance(amount decimal.Decimal) bool {
	return v.AvailableBalance().GreaterThanOrEqual(amount)
}

// CanPlaceOrders reports whether the vendor account may create orders.
func (v *Vendor) CanPlaceOrders() bool {
	return v.Status == VendorStatusActive && v.APIEnabled && v.IsVerified
}

// HashVendorAPIKey returns the hex SHA-256 digest stored for key lookup.
func HashVendorAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
