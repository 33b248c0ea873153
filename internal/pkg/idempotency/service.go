package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
)

// DefaultTTL is how long a settled record keeps serving replays before the
// cleanup sweep removes it.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInProgress means the first request with this key is still running.
	ErrInProgress = errors.New("idempotency: request with this key is still in progress")
	// ErrPayloadMismatch means the key was reused with a different request body.
	ErrPayloadMismatch = errors.New("idempotency: key reused with a different payload")
)

// Outcome is the result of claiming an idempotency key. Either the claim is
// fresh (Replay=false, the caller must execute the request and settle the
// record), or a cached response is replayed.
type Outcome struct {
	Replay         bool
	RecordID       uint
	ResponseStatus int
	ResponseBody   string
}

// Service implements the idempotency gateway over a repository.
type Service struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewService creates an idempotency service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, ttl: DefaultTTL, now: time.Now}
}

// NewServiceFromDB creates an idempotency service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// HashRequestBody returns the hex SHA-256 digest recorded for payload
// comparison.
func HashRequestBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin claims the key for (method, path, actor). Exactly one concurrent
// caller per scope gets a fresh claim; everyone else either replays the
// settled response, gets ErrInProgress, or gets ErrPayloadMismatch when the
// key is reused with a different body. Expired records count as absent.
func (s *Service) Begin(key, method, path, actorID string, body []byte) (*Outcome, error) {
	requestHash := HashRequestBody(body)
	record := &models.IdempotencyRecord{
		IdempotencyKey: key,
		HTTPMethod:     method,
		RequestPath:    path,
		ActorID:        actorID,
		RequestHash:    requestHash,
		Status:         models.IdempotencyStatusPending,
		ExpiresAt:      s.now().Add(s.ttl),
	}

	// An expired row still occupies the unique index, so one extra round is
	// enough: delete it and claim again.
	for attempt := 0; attempt < 2; attempt++ {
		created, existing, err := s.repo.CreateRecordIfNotExists(record)
		if err != nil {
			return nil, err
		}
		if created {
			return &Outcome{Replay: false, RecordID: record.ID}, nil
		}

		if existing.Expired(s.now()) {
			if err := s.repo.DeleteRecord(existing.ID); err != nil {
				return nil, err
			}
			continue
		}

		if existing.RequestHash != requestHash {
			return nil, ErrPayloadMismatch
		}
		if existing.Status == models.IdempotencyStatusPending {
			return nil, ErrInProgress
		}
		return &Outcome{
			Replay:         true,
			RecordID:       existing.ID,
			ResponseStatus: existing.ResponseStatus,
			ResponseBody:   existing.ResponseBody,
		}, nil
	}

	return nil, ErrInProgress
}

// Complete settles the claimed record with the successful response so later
// retries replay it.
func (s *Service) Complete(recordID uint, responseStatus int, responseBody string) error {
	return s.repo.SettleRecord(recordID, models.IdempotencyStatusCompleted, responseStatus, responseBody)
}

// Fail settles the claimed record with the error response. Failed outcomes
// replay too: the client sees the same deterministic answer on retry.
func (s *Service) Fail(recordID uint, responseStatus int, responseBody string) error {
	return s.repo.SettleRecord(recordID, models.IdempotencyStatusFailed, responseStatus, responseBody)
}

// Release drops a PENDING claim without recording a response, for the case
// where request execution never produced one (e.g. a panic in the handler).
// The next retry starts fresh.
func (s *Service) Release(recordID uint) error {
	return s.repo.DeleteRecord(recordID)
}

// CleanupExpired removes records past their retention window.
func (s *Service) CleanupExpired() (int64, error) {
	return s.repo.DeleteExpired(s.now())
}
