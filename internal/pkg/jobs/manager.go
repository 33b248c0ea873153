package jobs

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
)

// Sweep intervals. The DB is the only state the sweeps share with the
// request path, so multiple service instances can run them concurrently.
const (
	idempotencyCleanupInterval = time.Hour
	webhookRetryInterval       = 5 * time.Minute
	reconciliationInterval     = 10 * time.Minute
	esimExpirationInterval     = 24 * time.Hour

	// staleOrderAge is how long a PAID or PROVISIONING order may sit
	// untouched before the reconciliation sweep re-kicks it.
	staleOrderAge = 10 * time.Minute

	sweepBatchSize = 100
)

// IdempotencySweeper purges expired idempotency records.
type IdempotencySweeper interface {
	CleanupExpired() (int64, error)
}

// WebhookRetrier re-runs unprocessed webhook events within their attempt
// budget.
type WebhookRetrier interface {
	ProcessRetryEligible(limit int) (processed int, failed int)
}

// OrderReconciler finds stuck orders and re-kicks provisioning.
type OrderReconciler interface {
	ListStaleOrders(statuses []models.OrderStatus, maxAge time.Duration, limit int) ([]models.Order, error)
	RetryProvisioning(reference string) (*models.Order, error)
}

// Manager runs the background sweeps on tickers.
type Manager struct {
	idempotency IdempotencySweeper
	webhooks    WebhookRetrier
	orders      OrderReconciler
	db          *gorm.DB

	cleanupTicker        *time.Ticker
	webhookTicker        *time.Ticker
	reconcileTicker      *time.Ticker
	esimExpirationTicker *time.Ticker
	stopCh               chan struct{}
	wg                   sync.WaitGroup
	mu                   sync.Mutex
	running              bool
}

// NewManager creates a sweep manager from injected dependencies.
func NewManager(idempotency IdempotencySweeper, webhooks WebhookRetrier, orders OrderReconciler, db *gorm.DB) *Manager {
	return &Manager{
		idempotency: idempotency,
		webhooks:    webhooks,
		orders:      orders,
		db:          db,
	}
}

// Start starts the background sweeps.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Jobs Manager] Starting background sweeps")

	m.cleanupTicker = time.NewTicker(idempotencyCleanupInterval)
	m.wg.Add(1)
	go m.cleanupWorker()

	m.webhookTicker = time.NewTicker(webhookRetryInterval)
	m.wg.Add(1)
	go m.webhookRetryWorker()

	m.reconcileTicker = time.NewTicker(reconciliationInterval)
	m.wg.Add(1)
	go m.reconcileWorker()

	m.esimExpirationTicker = time.NewTicker(esimExpirationInterval)
	m.wg.Add(1)
	go m.esimExpirationWorker()

	log.Info("[Jobs Manager] Started successfully")
}

// Stop stops the background sweeps and waits for in-flight runs.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Jobs Manager] Stopping background sweeps...")

	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	if m.webhookTicker != nil {
		m.webhookTicker.Stop()
	}
	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.esimExpirationTicker != nil {
		m.esimExpirationTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Jobs Manager] Stopped successfully")
}

func (m *Manager) cleanupWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Jobs Manager] Idempotency cleanup worker stopping")
			return
		case <-m.cleanupTicker.C:
			m.RunIdempotencyCleanup()
		}
	}
}

func (m *Manager) webhookRetryWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Jobs Manager] Webhook retry worker stopping")
			return
		case <-m.webhookTicker.C:
			m.RunWebhookRetry()
		}
	}
}

func (m *Manager) reconcileWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Jobs Manager] Order reconciliation worker stopping")
			return
		case <-m.reconcileTicker.C:
			m.RunOrderReconciliation()
		}
	}
}

func (m *Manager) esimExpirationWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Jobs Manager] Esim expiration worker stopping")
			return
		case <-m.esimExpirationTicker.C:
			m.RunEsimExpiration()
		}
	}
}

// RunIdempotencyCleanup purges expired idempotency records once.
func (m *Manager) RunIdempotencyCleanup() {
	n, err := m.idempotency.CleanupExpired()
	if err != nil {
		log.Errorf("[Jobs Manager] Idempotency cleanup error: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Jobs Manager] Removed %d expired idempotency records", n)
	}
}

// RunWebhookRetry re-runs retry-eligible webhook events once.
func (m *Manager) RunWebhookRetry() {
	processed, failed := m.webhooks.ProcessRetryEligible(sweepBatchSize)
	if processed > 0 || failed > 0 {
		log.Infof("[Jobs Manager] Webhook retry sweep: %d processed, %d failed", processed, failed)
	}
}

// RunOrderReconciliation re-kicks provisioning for orders stuck in PAID or
// PROVISIONING longer than the stale threshold.
func (m *Manager) RunOrderReconciliation() {
	stale, err := m.orders.ListStaleOrders(
		[]models.OrderStatus{models.OrderStatusPaid, models.OrderStatusProvisioning},
		staleOrderAge,
		sweepBatchSize,
	)
	if err != nil {
		log.Errorf("[Jobs Manager] Reconciliation listing error: %v", err)
		return
	}
	for _, o := range stale {
		if _, err := m.orders.RetryProvisioning(o.OrderReference); err != nil {
			log.Errorf("[Jobs Manager] Reconciliation retry for %s failed: %v", o.OrderReference, err)
		}
	}
	if len(stale) > 0 {
		log.Infof("[Jobs Manager] Reconciliation sweep touched %d stale orders", len(stale))
	}
}

// RunEsimExpiration flags provisioned profiles whose validity window has
// passed.
func (m *Manager) RunEsimExpiration() {
	tx := m.db.Model(&models.Esim{}).
		Where("expires_at IS NOT NULL AND expires_at < ? AND status <> ?", time.Now(), models.EsimStatusExpired).
		Update("status", models.EsimStatusExpired)
	if tx.Error != nil {
		log.Errorf("[Jobs Manager] Esim expiration error: %v", tx.Error)
		return
	}
	if tx.RowsAffected > 0 {
		log.Infof("[Jobs Manager] Expired %d esims", tx.RowsAffected)
	}
}
