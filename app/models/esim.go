package models

import "time"

// Esim lifecycle statuses as reported by the provisioning vendor.
const (
	EsimStatusActive   = "active"
	EsimStatusInactive = "inactive"
	EsimStatusExpired  = "expired"
	EsimStatusRevoked  = "revoked"
)

// Esim is one provisioned profile delivered to a customer, created when an
// order completes provisioning. Activation material is the SM-DP+ address
// plus matching ID, rendered client-side as the LPA QR string.
type Esim struct {
	ID      uint  `gorm:"primaryKey" json:"id"`
	OrderID uint  `gorm:"not null;index" json:"order_id"`
	UserID  *uint `gorm:"index" json:"user_id,omitempty"`

	ICCID          string `gorm:"type:varchar(32);not null;uniqueIndex" json:"iccid"`
	MatchingID     string `gorm:"type:varchar(100);default:''" json:"matching_id,omitempty"`
	SmdpAddress    string `gorm:"type:varchar(200);default:''" json:"smdp_address,omitempty"`
	ActivationCode string `gorm:"type:text" json:"activation_code,omitempty"`

	BundleCode string `gorm:"type:varchar(100);not null;index" json:"bundle_code"`
	Status     string `gorm:"type:varchar(16);not null;default:'inactive';index" json:"status"`

	ActivatedAt *time.Time `gorm:"type:timestamp;default:null" json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the profile's validity window has passed.
func (e *Esim) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}
