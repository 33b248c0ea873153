package jobs

import (
	"testing"
	"time"

	"github.com/tiktel/ttelgo/app/models"
)

type fakeSweeper struct {
	cleaned int64
	calls   int
}

func (f *fakeSweeper) CleanupExpired() (int64, error) {
	f.calls++
	return f.cleaned, nil
}

type fakeRetrier struct {
	calls int
	limit int
}

func (f *fakeRetrier) ProcessRetryEligible(limit int) (int, int) {
	f.calls++
	f.limit = limit
	return 2, 1
}

type fakeReconciler struct {
	stale   []models.Order
	retried []string
}

func (f *fakeReconciler) ListStaleOrders(statuses []models.OrderStatus, maxAge time.Duration, limit int) ([]models.Order, error) {
	return f.stale, nil
}

func (f *fakeReconciler) RetryProvisioning(reference string) (*models.Order, error) {
	f.retried = append(f.retried, reference)
	return &models.Order{OrderReference: reference}, nil
}

func TestRunOrderReconciliationRetriesStaleOrders(t *testing.T) {
	rec := &fakeReconciler{stale: []models.Order{
		{OrderReference: "ORD-1", Status: models.OrderStatusPaid},
		{OrderReference: "ORD-2", Status: models.OrderStatusProvisioning},
	}}
	m := NewManager(&fakeSweeper{}, &fakeRetrier{}, rec, nil)

	m.RunOrderReconciliation()

	if len(rec.retried) != 2 || rec.retried[0] != "ORD-1" || rec.retried[1] != "ORD-2" {
		t.Fatalf("both stale orders must be retried, got %v", rec.retried)
	}
}

func TestRunWebhookRetryUsesBatchLimit(t *testing.T) {
	retrier := &fakeRetrier{}
	m := NewManager(&fakeSweeper{}, retrier, &fakeReconciler{}, nil)

	m.RunWebhookRetry()

	if retrier.calls != 1 || retrier.limit != sweepBatchSize {
		t.Fatalf("sweep must run once with the batch limit, got calls=%d limit=%d", retrier.calls, retrier.limit)
	}
}

func TestRunIdempotencyCleanup(t *testing.T) {
	sweeper := &fakeSweeper{cleaned: 3}
	m := NewManager(sweeper, &fakeRetrier{}, &fakeReconciler{}, nil)

	m.RunIdempotencyCleanup()

	if sweeper.calls != 1 {
		t.Fatalf("cleanup must run once, got %d", sweeper.calls)
	}
}

func TestManagerStartStopIdempotent(t *testing.T) {
	m := NewManager(&fakeSweeper{}, &fakeRetrier{}, &fakeReconciler{}, nil)

	m.Start()
	m.Start() // second start is a no-op
	m.Stop()
	m.Stop() // second stop is a no-op

	// Restart works after a full stop.
	m.Start()
	m.Stop()
}
