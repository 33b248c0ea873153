package models

import "time"

// Webhook sources. Every inbound event is attributed to exactly one.
const (
	WebhookSourceStripe = "stripe"
	WebhookSourceEsimgo = "esimgo"

	// WebhookMaxProcessingAttempts caps retry sweeps before an event is
	// left for operator review.
	WebhookMaxProcessingAttempts = 5
)

// WebhookEvent stores inbound provider webhook payloads with deduplication
// metadata for idempotent processing. The (source, event_id) unique index
// is the ingestion dedup boundary: an insert that conflicts means the
// event was already received.
type WebhookEvent struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Source  string `gorm:"type:varchar(20);not null;index:ux_webhook_events_source_event,unique,priority:1;index" json:"source"`
	EventID string `gorm:"type:varchar(191);not null;index:ux_webhook_events_source_event,unique,priority:2" json:"event_id"`

	EventType   string `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON string `gorm:"type:longtext;not null" json:"payload_json"`

	Processed             bool       `gorm:"default:false;index" json:"processed"`
	ProcessingAttempts    int        `gorm:"not null;default:0" json:"processing_attempts"`
	LastProcessingAttempt *time.Time `gorm:"type:timestamp;default:null" json:"last_processing_attempt,omitempty"`
	ProcessingError       string     `gorm:"type:text" json:"processing_error,omitempty"`
	ProcessedAt           *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`

	OrderID   *uint `gorm:"index" json:"order_id,omitempty"`
	PaymentID *uint `gorm:"index" json:"payment_id,omitempty"`

	ReceivedAt time.Time `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RetryEligible reports whether the retry sweep should pick this event up.
func (e *WebhookEvent) RetryEligible() bool {
	return !e.Processed && e.ProcessingAttempts < WebhookMaxProcessingAttempts
}
