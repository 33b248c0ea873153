package idempotency

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiktel/ttelgo/app/models"
)

type fakeRepository struct {
	mu      sync.Mutex
	nextID  uint
	records map[string]*models.IdempotencyRecord
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: make(map[string]*models.IdempotencyRecord)}
}

func scopeKey(r *models.IdempotencyRecord) string {
	return r.IdempotencyKey + "|" + r.HTTPMethod + "|" + r.RequestPath + "|" + r.ActorID
}

func (f *fakeRepository) CreateRecordIfNotExists(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeKey(record)
	if existing, ok := f.records[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	f.nextID++
	record.ID = f.nextID
	cp := *record
	f.records[key] = &cp
	return true, record, nil
}

func (f *fakeRepository) DeleteRecord(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, r := range f.records {
		if r.ID == id {
			delete(f.records, k)
			return nil
		}
	}
	return nil
}

func (f *fakeRepository) SettleRecord(id uint, status string, responseStatus int, responseBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			r.Status = status
			r.ResponseStatus = responseStatus
			r.ResponseBody = responseBody
			return nil
		}
	}
	return errors.New("record not found")
}

func (f *fakeRepository) DeleteExpired(now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, r := range f.records {
		if r.Expired(now) {
			delete(f.records, k)
			n++
		}
	}
	return n, nil
}

func newTestService(repo Repository) *Service {
	s := NewService(repo)
	return s
}

func TestBeginThenReplayAfterComplete(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	body := []byte(`{"bundle_code":"esim_7D_1GB_US","quantity":1}`)

	out, err := svc.Begin("key-1", "POST", "/api/v1/checkout", "user:42", body)
	if err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	if out.Replay {
		t.Fatalf("first Begin must be a fresh claim")
	}

	if err := svc.Complete(out.RecordID, 201, `{"order_reference":"ORD-1"}`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	replay, err := svc.Begin("key-1", "POST", "/api/v1/checkout", "user:42", body)
	if err != nil {
		t.Fatalf("replay Begin failed: %v", err)
	}
	if !replay.Replay {
		t.Fatalf("second Begin with same key must replay")
	}
	if replay.ResponseStatus != 201 || replay.ResponseBody != `{"order_reference":"ORD-1"}` {
		t.Fatalf("replayed response mismatch: %d %q", replay.ResponseStatus, replay.ResponseBody)
	}
}

func TestBeginInProgressConflict(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	body := []byte(`{"amount":"49.99"}`)

	if _, err := svc.Begin("key-2", "POST", "/api/v1/checkout", "user:1", body); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	_, err := svc.Begin("key-2", "POST", "/api/v1/checkout", "user:1", body)
	if !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
}

func TestBeginPayloadMismatch(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	out, err := svc.Begin("key-3", "POST", "/api/v1/checkout", "user:1", []byte(`{"quantity":1}`))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := svc.Complete(out.RecordID, 201, `{}`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	_, err = svc.Begin("key-3", "POST", "/api/v1/checkout", "user:1", []byte(`{"quantity":2}`))
	if !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
}

func TestBeginScopedByActorAndPath(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	body := []byte(`{"quantity":1}`)

	first, err := svc.Begin("shared", "POST", "/api/v1/checkout", "user:1", body)
	if err != nil || first.Replay {
		t.Fatalf("first claim failed: %v replay=%v", err, first != nil && first.Replay)
	}

	// Same key, different actor: independent claim.
	second, err := svc.Begin("shared", "POST", "/api/v1/checkout", "user:2", body)
	if err != nil || second.Replay {
		t.Fatalf("different actor must get a fresh claim: %v", err)
	}

	// Same key and actor, different path: independent claim.
	third, err := svc.Begin("shared", "POST", "/api/v1/vendor/orders", "user:1", body)
	if err != nil || third.Replay {
		t.Fatalf("different path must get a fresh claim: %v", err)
	}
}

func TestBeginExpiredRecordTreatedAsAbsent(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	body := []byte(`{"quantity":1}`)

	out, err := svc.Begin("key-4", "POST", "/api/v1/checkout", "user:1", body)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := svc.Complete(out.RecordID, 201, `{"order_reference":"ORD-9"}`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// Move the clock past the TTL.
	svc.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }

	fresh, err := svc.Begin("key-4", "POST", "/api/v1/checkout", "user:1", []byte(`{"quantity":99}`))
	if err != nil {
		t.Fatalf("Begin after expiry failed: %v", err)
	}
	if fresh.Replay {
		t.Fatalf("expired record must not replay")
	}
}

func TestFailedOutcomeReplays(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	body := []byte(`{"quantity":1}`)

	out, err := svc.Begin("key-5", "POST", "/api/v1/checkout", "user:1", body)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := svc.Fail(out.RecordID, 422, `{"error":"insufficient_funds"}`); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	replay, err := svc.Begin("key-5", "POST", "/api/v1/checkout", "user:1", body)
	if err != nil {
		t.Fatalf("replay Begin failed: %v", err)
	}
	if !replay.Replay || replay.ResponseStatus != 422 {
		t.Fatalf("failed outcome must replay with original status, got %+v", replay)
	}
}

func TestConcurrentBeginExactlyOneFreshClaim(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	body := []byte(`{"quantity":1}`)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	inProgress := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Begin("key-6", "POST", "/api/v1/checkout", "user:1", body)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && !out.Replay:
				fresh++
			case errors.Is(err, ErrInProgress):
				inProgress++
			default:
				t.Errorf("unexpected outcome: out=%+v err=%v", out, err)
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Fatalf("expected exactly one fresh claim, got %d", fresh)
	}
	if inProgress != workers-1 {
		t.Fatalf("expected %d in-progress conflicts, got %d", workers-1, inProgress)
	}
}

func TestCleanupExpired(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	out, err := svc.Begin("key-7", "POST", "/api/v1/checkout", "user:1", []byte(`{}`))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := svc.Complete(out.RecordID, 200, `{}`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Hour) }
	n, err := svc.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired record removed, got %d", n)
	}
}
