package models

import "time"

// Idempotency record statuses. A record starts PENDING while the first
// request with its key is still executing, and settles COMPLETED or FAILED
// with the captured response.
const (
	IdempotencyStatusPending   = "PENDING"
	IdempotencyStatusCompleted = "COMPLETED"
	IdempotencyStatusFailed    = "FAILED"
)

// IdempotencyRecord caches one write request keyed by the client-supplied
// Idempotency-Key header. The composite unique index scopes the key to
// method, path and actor, so different endpoints or callers can reuse the
// same key without colliding.
type IdempotencyRecord struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	IdempotencyKey string `gorm:"type:varchar(128);not null;index:ux_idempotency_scope,unique,priority:1" json:"idempotency_key"`
	HTTPMethod     string `gorm:"type:varchar(8);not null;index:ux_idempotency_scope,unique,priority:2" json:"http_method"`
	RequestPath    string `gorm:"type:varchar(191);not null;index:ux_idempotency_scope,unique,priority:3" json:"request_path"`
	ActorID        string `gorm:"type:varchar(64);not null;default:'';index:ux_idempotency_scope,unique,priority:4" json:"actor_id"`

	RequestHash string `gorm:"type:varchar(64);not null" json:"request_hash"`

	Status         string `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	ResponseStatus int    `gorm:"default:0" json:"response_status"`
	ResponseBody   string `gorm:"type:longtext" json:"response_body,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

// Expired reports whether the record's retention window has passed. Expired
// records are treated as absent by the gateway and removed by the cleanup
// sweep.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
