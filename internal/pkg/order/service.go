package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tiktel/ttelgo/app/models"
	"github.com/tiktel/ttelgo/internal/pkg/env"
	"gorm.io/gorm"
)

// DefaultMaxProvisionRetries bounds transient provisioning failures before
// an order is failed terminally.
const DefaultMaxProvisionRetries = 3

var (
	// ErrNotFound means no order exists for the given reference.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidTransition means the event is not valid for the order's
	// current state. The order is left untouched.
	ErrInvalidTransition = errors.New("order: invalid transition for current state")
	// ErrCannotCancel means the order progressed past the cancelable states.
	ErrCannotCancel = errors.New("order: can no longer be canceled, use the refund path")
	// ErrVendorNotEligible means the vendor account may not place orders.
	ErrVendorNotEligible = errors.New("order: vendor is not eligible to place orders")
)

// BundleInfo is the catalogue data the service needs to price an order.
type BundleInfo struct {
	Code         string
	Name         string
	Price        decimal.Decimal
	Currency     string
	CountryISO   string
	DataAmount   string
	ValidityDays int
}

// Catalogue resolves bundle codes to catalogue data.
type Catalogue interface {
	GetBundle(code string) (*BundleInfo, error)
}

// Ledger is the slice of the vendor ledger the order service depends on.
type Ledger interface {
	GetVendor(vendorID uint) (*models.Vendor, error)
	PostCharge(vendorID uint, amount decimal.Decimal, currency string, orderID uint, reference, actor string) (*models.LedgerEntry, error)
	ReverseOrderCharge(orderID uint, actor string) error
}

// ProvisionResult is what the provisioning vendor returns for a new order.
type ProvisionResult struct {
	ExternalOrderID string
	ICCID           string
	MatchingID      string
	SmdpAddress     string
	ActivationCode  string
}

// Provisioner places orders with the provisioning vendor.
type Provisioner interface {
	CreateOrder(bundleCode string, quantity int) (*ProvisionResult, error)
}

// transientError is implemented by provisioner errors that are worth
// retrying.
type transientError interface {
	Transient() bool
}

func isTransient(err error) bool {
	var t transientError
	return errors.As(err, &t) && t.Transient()
}

// TransitionPayload carries event-specific data into a transition.
type TransitionPayload struct {
	EsimgoOrderID  string
	ICCID          string
	MatchingID     string
	SmdpAddress    string
	ActivationCode string
	ErrorCode      string
	ErrorMessage   string
	// Permanent marks a provisioning failure that must not be retried.
	Permanent bool
	Actor     string
}

// Service owns the order lifecycle. All status mutations go through
// Transition, which serializes per order via a row lock.
type Service struct {
	repo                Repository
	run                 func(fn func(repo Repository) error) error
	catalogue           Catalogue
	ledger              Ledger
	provisioner         Provisioner
	maxProvisionRetries int
	now                 func() time.Time
}

// NewService creates an order service from injected dependencies. The
// default runner executes against the injected repository without a
// surrounding transaction; use NewServiceFromDB in production.
func NewService(repo Repository, catalogue Catalogue, ledger Ledger, provisioner Provisioner) *Service {
	return &Service{
		repo:                repo,
		run:                 func(fn func(repo Repository) error) error { return fn(repo) },
		catalogue:           catalogue,
		ledger:              ledger,
		provisioner:         provisioner,
		maxProvisionRetries: maxProvisionRetriesFromEnv(),
		now:                 time.Now,
	}
}

// NewServiceFromDB creates an order service whose transitions each run in
// one DB transaction.
func NewServiceFromDB(db *gorm.DB, catalogue Catalogue, ledger Ledger, provisioner Provisioner) *Service {
	s := NewService(NewRepository(db), catalogue, ledger, provisioner)
	s.run = func(fn func(repo Repository) error) error {
		return db.Transaction(func(tx *gorm.DB) error {
			return fn(NewRepository(tx))
		})
	}
	return s
}

func maxProvisionRetriesFromEnv() int {
	v := env.GetEnv("ORDER_MAX_PROVISION_RETRIES", "")
	switch v {
	case "":
		return DefaultMaxProvisionRetries
	default:
		n := 0
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 0 {
			return DefaultMaxProvisionRetries
		}
		return n
	}
}

// NewOrderReference mints the externally visible, opaque order reference.
func NewOrderReference() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(raw[:16])
}

// CreateConsumerOrder prices the bundle from the catalogue and creates a
// B2C order in ORDER_CREATED. Payment-intent creation moves it onward.
func (s *Service) CreateConsumerOrder(userID uint, email, bundleCode string, quantity int) (*models.Order, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("order: quantity must be at least 1, got %d", quantity)
	}
	bundle, err := s.catalogue.GetBundle(bundleCode)
	if err != nil {
		return nil, err
	}

	o := &models.Order{
		OrderReference: NewOrderReference(),
		UserID:         &userID,
		CustomerEmail:  email,
		BundleCode:     bundle.Code,
		BundleName:     bundle.Name,
		Quantity:       quantity,
		UnitPrice:      bundle.Price,
		TotalAmount:    bundle.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Currency:       bundle.Currency,
		Status:         models.OrderStatusCreated,
		PaymentStatus:  models.PaymentStatusCreated,
		CountryISO:     bundle.CountryISO,
		DataAmount:     bundle.DataAmount,
		ValidityDays:   bundle.ValidityDays,
	}
	if err := s.repo.CreateOrder(o); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateVendorOrder creates a B2B order paid from the vendor's ledger
// balance. The charge is posted before the order is marked PAID; an
// insufficient balance fails the order and surfaces the ledger error.
func (s *Service) CreateVendorOrder(vendorID uint, bundleCode string, quantity int) (*models.Order, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("order: quantity must be at least 1, got %d", quantity)
	}
	vendor, err := s.ledger.GetVendor(vendorID)
	if err != nil {
		return nil, err
	}
	if !vendor.CanPlaceOrders() {
		return nil, ErrVendorNotEligible
	}

	bundle, err := s.catalogue.GetBundle(bundleCode)
	if err != nil {
		return nil, err
	}

	o := &models.Order{
		OrderReference: NewOrderReference(),
		VendorID:       &vendorID,
		BundleCode:     bundle.Code,
		BundleName:     bundle.Name,
		Quantity:       quantity,
		UnitPrice:      bundle.Price,
		TotalAmount:    bundle.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Currency:       bundle.Currency,
		Status:         models.OrderStatusCreated,
		PaymentStatus:  models.PaymentStatusCreated,
		CountryISO:     bundle.CountryISO,
		DataAmount:     bundle.DataAmount,
		ValidityDays:   bundle.ValidityDays,
	}
	if err := s.repo.CreateOrder(o); err != nil {
		return nil, err
	}

	actor := fmt.Sprintf("vendor:%d", vendorID)
	if _, err := s.ledger.PostCharge(vendorID, o.TotalAmount, o.Currency, o.ID, o.OrderReference, actor); err != nil {
		o.Status = models.OrderStatusFailed
		o.ErrorCode = "LEDGER_CHARGE_FAILED"
		o.ErrorMessage = err.Error()
		now := s.now()
		o.FailedAt = &now
		if saveErr := s.repo.Save(o); saveErr != nil {
			return nil, saveErr
		}
		return nil, err
	}

	now := s.now()
	o.Status = models.OrderStatusPaid
	o.PaymentStatus = models.PaymentStatusSucceeded
	o.PaidAt = &now
	if err := s.repo.Save(o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByID loads an order by its internal id.
func (s *Service) GetByID(id uint) (*models.Order, error) {
	o, err := s.repo.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return o, err
}

// GetByReference loads an order by its external reference.
func (s *Service) GetByReference(reference string) (*models.Order, error) {
	o, err := s.repo.GetByReference(reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return o, err
}

// GetByEsimgoOrderID resolves an order from the provisioning vendor's id.
func (s *Service) GetByEsimgoOrderID(esimgoOrderID string) (*models.Order, error) {
	o, err := s.repo.GetByEsimgoOrderID(esimgoOrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return o, err
}

// Transition applies event to the order identified by reference. The order
// row is locked for the duration, so transitions per order are serialized.
// Events whose effect is already reflected in the current state are no-op
// successes; anything else not in the table is ErrInvalidTransition.
func (s *Service) Transition(reference string, event Event, p TransitionPayload) (*models.Order, error) {
	var result *models.Order
	err := s.run(func(repo Repository) error {
		o, err := repo.GetByReferenceForUpdate(reference)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if isNoop(o.Status, event) {
			result = o
			return nil
		}

		if event == EventProvisioningFailed {
			result, err = s.applyProvisioningFailure(repo, o, p)
			return err
		}

		next, ok := nextStatus(o.Status, event)
		if !ok {
			return ErrInvalidTransition
		}

		s.applyTarget(o, event, next, p)
		if err := repo.Save(o); err != nil {
			return err
		}
		if next == models.OrderStatusCompleted {
			if err := s.recordEsim(repo, o); err != nil {
				return err
			}
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyProvisioningFailure implements the retry policy: transient failures
// increment the counter and keep the order PAID (retry-eligible) until the
// maximum, then the order fails terminally and a posted vendor charge is
// reversed.
func (s *Service) applyProvisioningFailure(repo Repository, o *models.Order, p TransitionPayload) (*models.Order, error) {
	if o.Status != models.OrderStatusProvisioning && o.Status != models.OrderStatusPaid {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	o.RetryCount++
	o.LastRetryAt = &now
	o.ErrorCode = p.ErrorCode
	o.ErrorMessage = p.ErrorMessage

	if p.Permanent || o.RetryCount > s.maxProvisionRetries {
		o.Status = models.OrderStatusFailed
		o.FailedAt = &now
		if err := repo.Save(o); err != nil {
			return nil, err
		}
		if o.IsVendor() {
			actor := p.Actor
			if actor == "" {
				actor = "system"
			}
			if err := s.ledger.ReverseOrderCharge(o.ID, actor); err != nil {
				return nil, err
			}
		}
		return o, nil
	}

	o.Status = models.OrderStatusPaid
	if err := repo.Save(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) applyTarget(o *models.Order, event Event, next models.OrderStatus, p TransitionPayload) {
	now := s.now()
	o.Status = next

	switch next {
	case models.OrderStatusPaid:
		o.PaidAt = &now
		if o.PaymentStatus.CanTransitionTo(models.PaymentStatusSucceeded) {
			o.PaymentStatus = models.PaymentStatusSucceeded
		}
	case models.OrderStatusPaymentProcessing:
		if o.PaymentStatus.CanTransitionTo(models.PaymentStatusProcessing) {
			o.PaymentStatus = models.PaymentStatusProcessing
		}
	case models.OrderStatusCompleted:
		o.CompletedAt = &now
		if o.ProvisionedAt == nil {
			o.ProvisionedAt = &now
		}
	case models.OrderStatusFailed:
		o.FailedAt = &now
		o.ErrorCode = p.ErrorCode
		o.ErrorMessage = p.ErrorMessage
		if event == EventPaymentFailed && o.PaymentStatus.CanTransitionTo(models.PaymentStatusFailed) {
			o.PaymentStatus = models.PaymentStatusFailed
		}
	case models.OrderStatusCanceled:
		o.CanceledAt = &now
		if o.PaymentStatus.CanTransitionTo(models.PaymentStatusCanceled) {
			o.PaymentStatus = models.PaymentStatusCanceled
		}
	case models.OrderStatusRefunded:
		o.RefundedAt = &now
		if o.PaymentStatus.CanTransitionTo(models.PaymentStatusRefunded) {
			o.PaymentStatus = models.PaymentStatusRefunded
		}
	case models.OrderStatusSyncFailed:
		o.ErrorCode = p.ErrorCode
		o.ErrorMessage = p.ErrorMessage
	}

	if p.EsimgoOrderID != "" {
		o.EsimgoOrderID = p.EsimgoOrderID
	}
	if p.ICCID != "" {
		o.ICCID = p.ICCID
	}
	if p.MatchingID != "" {
		o.MatchingID = p.MatchingID
	}
	if p.SmdpAddress != "" {
		o.SmdpAddress = p.SmdpAddress
	}
	if p.ActivationCode != "" {
		o.ActivationCode = p.ActivationCode
	}
}

// recordEsim persists the provisioned profile once the order completes.
func (s *Service) recordEsim(repo Repository, o *models.Order) error {
	if o.ICCID == "" {
		return nil
	}
	var expires *time.Time
	if o.ValidityDays > 0 {
		t := s.now().AddDate(0, 0, o.ValidityDays)
		expires = &t
	}
	return repo.CreateEsim(&models.Esim{
		OrderID:        o.ID,
		UserID:         o.UserID,
		ICCID:          o.ICCID,
		MatchingID:     o.MatchingID,
		SmdpAddress:    o.SmdpAddress,
		ActivationCode: o.ActivationCode,
		BundleCode:     o.BundleCode,
		Status:         models.EsimStatusInactive,
		ExpiresAt:      expires,
	})
}

// ProvisionOrder hands a PAID order to the provisioning vendor and applies
// the outcome. Transient vendor errors leave the order retry-eligible.
func (s *Service) ProvisionOrder(reference string) (*models.Order, error) {
	o, err := s.Transition(reference, EventProvisioningStarted, TransitionPayload{})
	if err != nil {
		return nil, err
	}

	res, provErr := s.provisioner.CreateOrder(o.BundleCode, o.Quantity)
	if provErr != nil {
		payload := TransitionPayload{
			ErrorCode:    "PROVISIONING_ERROR",
			ErrorMessage: provErr.Error(),
			Permanent:    !isTransient(provErr),
		}
		return s.Transition(reference, EventProvisioningFailed, payload)
	}

	return s.Transition(reference, EventProvisioningSucceeded, TransitionPayload{
		EsimgoOrderID:  res.ExternalOrderID,
		ICCID:          res.ICCID,
		MatchingID:     res.MatchingID,
		SmdpAddress:    res.SmdpAddress,
		ActivationCode: res.ActivationCode,
	})
}

// RetryProvisioning re-kicks provisioning for a retry-eligible order, used
// by the reconciliation sweep and the operator endpoint.
func (s *Service) RetryProvisioning(reference string) (*models.Order, error) {
	o, err := s.GetByReference(reference)
	if err != nil {
		return nil, err
	}
	if !o.NeedsProvisioning() && o.Status != models.OrderStatusProvisioning {
		return nil, ErrInvalidTransition
	}
	if o.Status == models.OrderStatusProvisioning {
		// A stale PROVISIONING order means the previous attempt died
		// mid-flight. Reset it to PAID first so ProvisionOrder can re-enter.
		if _, err := s.Transition(reference, EventProvisioningFailed, TransitionPayload{
			ErrorCode:    "PROVISIONING_STALE",
			ErrorMessage: "provisioning attempt did not complete",
		}); err != nil {
			return nil, err
		}
	}
	return s.ProvisionOrder(reference)
}

// CancelOrder cancels the order if it has not progressed past the
// cancelable states.
func (s *Service) CancelOrder(reference, actor string) (*models.Order, error) {
	o, err := s.Transition(reference, EventCancel, TransitionPayload{Actor: actor})
	if errors.Is(err, ErrInvalidTransition) {
		return nil, ErrCannotCancel
	}
	return o, err
}

// ListStaleOrders returns orders stuck in the given statuses longer than
// maxAge, for the reconciliation sweep.
func (s *Service) ListStaleOrders(statuses []models.OrderStatus, maxAge time.Duration, limit int) ([]models.Order, error) {
	return s.repo.ListStale(statuses, s.now().Add(-maxAge), limit)
}

// ListVendorOrders returns the vendor's most recent orders.
func (s *Service) ListVendorOrders(vendorID uint, limit, offset int) ([]models.Order, error) {
	return s.repo.ListByVendor(vendorID, limit, offset)
}

// ListUserOrders returns the user's most recent orders.
func (s *Service) ListUserOrders(userID uint, limit, offset int) ([]models.Order, error) {
	return s.repo.ListByUser(userID, limit, offset)
}
