package webhook

import (
	"errors"
	"time"

	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
)

var (
	// ErrBadSignature means the payload failed the source's signature check.
	// The request is rejected before the payload is parsed or stored.
	ErrBadSignature = errors.New("webhook: signature verification failed")
	// ErrUnknownEvent means the event type has no dispatch entry.
	ErrUnknownEvent = errors.New("webhook: unknown event type")
)

// IngestResult tells the caller whether the event is new.
type IngestResult int

const (
	Accepted IngestResult = iota
	Duplicate
)

// Service owns webhook ingestion: durably record the event exactly once,
// keyed by (source, event id). Signature verification happens in the
// controller before Ingest is reached, so everything stored here is
// authenticated.
type Service struct {
	repo Repository
}

// NewService creates a webhook service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a webhook service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Ingest records the event. Redelivery of a (source, eventID) pair already
// seen returns Duplicate with the stored row and no side effects.
func (s *Service) Ingest(source, eventID, eventType string, payload []byte) (IngestResult, *models.WebhookEvent, error) {
	event := &models.WebhookEvent{
		Source:      source,
		EventID:     eventID,
		EventType:   eventType,
		PayloadJSON: string(payload),
	}
	created, stored, err := s.repo.CreateEventIfNotExists(event)
	if err != nil {
		return 0, nil, err
	}
	if !created {
		return Duplicate, stored, nil
	}
	return Accepted, stored, nil
}

// ListExhausted returns events that ran out of processing attempts, for
// operator review.
func (s *Service) ListExhausted(limit, offset int) ([]models.WebhookEvent, error) {
	return s.repo.ListExhausted(models.WebhookMaxProcessingAttempts, limit, offset)
}

// ListRetryEligible returns unprocessed events still within the attempt
// budget.
func (s *Service) ListRetryEligible(limit int) ([]models.WebhookEvent, error) {
	return s.repo.ListRetryEligible(models.WebhookMaxProcessingAttempts, limit)
}

// nowFunc is aliased for test seams in this package.
type nowFunc func() time.Time
