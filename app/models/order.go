package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the canonical order lifecycle state. Transitions between
// states are owned exclusively by the order state machine.
type OrderStatus string

const (
	OrderStatusCreated           OrderStatus = "ORDER_CREATED"
	OrderStatusPaymentPending    OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaymentProcessing OrderStatus = "PAYMENT_PROCESSING"
	OrderStatusPaid              OrderStatus = "PAID"
	OrderStatusProvisioning      OrderStatus = "PROVISIONING"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusFailed            OrderStatus = "FAILED"
	OrderStatusCanceled          OrderStatus = "CANCELED"
	OrderStatusRefunded          OrderStatus = "REFUNDED"
	OrderStatusPendingSync       OrderStatus = "PENDING_SYNC"
	OrderStatusSyncFailed        OrderStatus = "SYNC_FAILED"
)

// Order is a purchase of one bundle by either a consumer user or a vendor.
// Exactly one of UserID/VendorID is set. Orders are never deleted; terminal
// orders are retained for audit.
type Order struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	OrderReference string      `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_reference"`
	UserID         *uint       `gorm:"index" json:"user_id,omitempty"`
	VendorID       *uint       `gorm:"index" json:"vendor_id,omitempty"`
	CustomerEmail  string      `gorm:"type:varchar(200);default:''" json:"customer_email,omitempty"`

	BundleCode string          `gorm:"type:varchar(100);not null;index" json:"bundle_code"`
	BundleName string          `gorm:"type:varchar(200);not null" json:"bundle_name"`
	Quantity   int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency   string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`

	Status        OrderStatus   `gorm:"type:varchar(32);not null;default:'ORDER_CREATED';index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"type:varchar(32);not null;default:'created';index" json:"payment_status"`

	// Provisioning outputs, nullable until the vendor order succeeds.
	EsimgoOrderID  string `gorm:"type:varchar(100);default:'';index" json:"esimgo_order_id,omitempty"`
	ICCID          string `gorm:"type:varchar(32);default:''" json:"iccid,omitempty"`
	MatchingID     string `gorm:"type:varchar(100);default:''" json:"matching_id,omitempty"`
	SmdpAddress    string `gorm:"type:varchar(200);default:''" json:"smdp_address,omitempty"`
	ActivationCode string `gorm:"type:text" json:"activation_code,omitempty"`

	CountryISO   string `gorm:"type:varchar(4);default:''" json:"country_iso,omitempty"`
	DataAmount   string `gorm:"type:varchar(32);default:''" json:"data_amount,omitempty"`
	ValidityDays int    `gorm:"default:0" json:"validity_days,omitempty"`

	ErrorCode    string     `gorm:"type:varchar(64);default:''" json:"error_code,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int        `gorm:"not null;default:0" json:"retry_count"`
	LastRetryAt  *time.Time `gorm:"type:timestamp;default:null" json:"last_retry_at,omitempty"`

	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	PaidAt        *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	ProvisionedAt *time.Time `gorm:"type:timestamp;default:null" json:"provisioned_at,omitempty"`
	CompletedAt   *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	FailedAt      *time.Time `gorm:"type:timestamp;default:null" json:"failed_at,omitempty"`
	CanceledAt    *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	RefundedAt    *time.Time `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
}

// IsConsumer reports whether this is a B2C order.
func (o *Order) IsConsumer() bool {
	return o.UserID != nil && o.VendorID == nil
}

// IsVendor reports whether this is a B2B order.
func (o *Order) IsVendor() bool {
	return o.VendorID != nil && o.UserID == nil
}

// IsTerminal reports whether the order reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCanceled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// CanBeCanceled reports whether a direct cancellation is still permitted.
// Once payment progressed past pending, cancellation must go through the
// refund path instead.
func (o *Order) CanBeCanceled() bool {
	switch o.Status {
	case OrderStatusCreated, OrderStatusPaymentPending, OrderStatusPendingSync:
		return true
	default:
		return false
	}
}

// NeedsProvisioning reports whether the order is paid but not yet handed to
// the provisioning vendor.
func (o *Order) NeedsProvisioning() bool {
	return o.Status == OrderStatusPaid && o.ProvisionedAt == nil
}
