package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus mirrors the card processor's payment intent lifecycle.
type PaymentStatus string

const (
	PaymentStatusCreated           PaymentStatus = "created"
	PaymentStatusRequiresAction    PaymentStatus = "requires_action"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCanceled          PaymentStatus = "canceled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// paymentStatusRank orders statuses so that transitions can only move
// forward. succeeded may still progress to refunded/partially_refunded.
var paymentStatusRank = map[PaymentStatus]int{
	PaymentStatusCreated:           0,
	PaymentStatusRequiresAction:    1,
	PaymentStatusProcessing:        2,
	PaymentStatusSucceeded:         3,
	PaymentStatusFailed:            3,
	PaymentStatusCanceled:          3,
	PaymentStatusPartiallyRefunded: 4,
	PaymentStatusRefunded:          5,
}

// CanTransitionTo reports whether the payment status may move to next.
// failed and canceled are terminal; succeeded only advances into the
// refund states.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return false
	}
	if s == PaymentStatusFailed || s == PaymentStatusCanceled {
		return false
	}
	if next == PaymentStatusRefunded || next == PaymentStatusPartiallyRefunded {
		return s == PaymentStatusSucceeded || s == PaymentStatusPartiallyRefunded
	}
	return paymentStatusRank[next] > paymentStatusRank[s]
}

// Payment is one payment attempt against the card processor, linked 1:1 to
// an order (or to a vendor wallet top-up, in which case OrderID is nil).
type Payment struct {
	ID       uint  `gorm:"primaryKey" json:"id"`
	OrderID  *uint `gorm:"index" json:"order_id,omitempty"`
	VendorID *uint `gorm:"index" json:"vendor_id,omitempty"`

	PaymentIntentID string `gorm:"type:varchar(100);not null;uniqueIndex" json:"payment_intent_id"`
	ChargeID        string `gorm:"type:varchar(100);default:''" json:"charge_id,omitempty"`
	RefundID        string `gorm:"type:varchar(100);default:''" json:"refund_id,omitempty"`

	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"refunded_amount"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`

	Status        PaymentStatus `gorm:"type:varchar(32);not null;default:'created';index" json:"status"`
	FailureReason string        `gorm:"type:text" json:"failure_reason,omitempty"`

	// Idempotency token the client supplied when this payment was created.
	IdempotencyToken string `gorm:"type:varchar(128);default:''" json:"-"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	PaidAt    *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
}
