package order

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
)

type fakeRepo struct {
	orders map[string]*models.Order
	esims  []models.Esim
	nextID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[string]*models.Order)}
}

func (f *fakeRepo) CreateOrder(o *models.Order) error {
	f.nextID++
	o.ID = f.nextID
	cp := *o
	f.orders[o.OrderReference] = &cp
	return nil
}

func (f *fakeRepo) GetByID(id uint) (*models.Order, error) {
	for _, o := range f.orders {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetByReference(ref string) (*models.Order, error) {
	o, ok := f.orders[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) GetByReferenceForUpdate(ref string) (*models.Order, error) {
	return f.GetByReference(ref)
}

func (f *fakeRepo) GetByEsimgoOrderID(id string) (*models.Order, error) {
	for _, o := range f.orders {
		if o.EsimgoOrderID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) Save(o *models.Order) error {
	cp := *o
	f.orders[o.OrderReference] = &cp
	return nil
}

func (f *fakeRepo) ListStale(statuses []models.OrderStatus, olderThan time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		for _, s := range statuses {
			if o.Status == s && o.UpdatedAt.Before(olderThan) {
				out = append(out, *o)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByVendor(vendorID uint, limit, offset int) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeRepo) ListByUser(userID uint, limit, offset int) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeRepo) CreateEsim(e *models.Esim) error {
	f.esims = append(f.esims, *e)
	return nil
}

type fakeCatalogue struct {
	bundles map[string]*BundleInfo
}

func (f *fakeCatalogue) GetBundle(code string) (*BundleInfo, error) {
	b, ok := f.bundles[code]
	if !ok {
		return nil, errors.New("bundle not found")
	}
	return b, nil
}

type fakeLedger struct {
	vendor    *models.Vendor
	charges   []decimal.Decimal
	reversals []uint
	chargeErr error
}

func (f *fakeLedger) GetVendor(vendorID uint) (*models.Vendor, error) {
	if f.vendor == nil {
		return nil, errors.New("vendor not found")
	}
	return f.vendor, nil
}

func (f *fakeLedger) PostCharge(vendorID uint, amount decimal.Decimal, currency string, orderID uint, reference, actor string) (*models.LedgerEntry, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	f.charges = append(f.charges, amount)
	return &models.LedgerEntry{VendorID: vendorID, Amount: amount.Neg()}, nil
}

func (f *fakeLedger) ReverseOrderCharge(orderID uint, actor string) error {
	f.reversals = append(f.reversals, orderID)
	return nil
}

type transientProvisionErr struct{ msg string }

func (e *transientProvisionErr) Error() string   { return e.msg }
func (e *transientProvisionErr) Transient() bool { return true }

type fakeProvisioner struct {
	result *ProvisionResult
	errs   []error
	calls  int
}

func (f *fakeProvisioner) CreateOrder(bundleCode string, quantity int) (*ProvisionResult, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.result, nil
}

func testBundle() *BundleInfo {
	return &BundleInfo{
		Code:         "esim_7D_1GB_US",
		Name:         "US 1GB 7 Days",
		Price:        decimal.RequireFromString("49.99"),
		Currency:     "USD",
		CountryISO:   "US",
		DataAmount:   "1GB",
		ValidityDays: 7,
	}
}

func newTestOrderService(repo *fakeRepo, ledger *fakeLedger, prov *fakeProvisioner) *Service {
	cat := &fakeCatalogue{bundles: map[string]*BundleInfo{"esim_7D_1GB_US": testBundle()}}
	if prov == nil {
		prov = &fakeProvisioner{result: &ProvisionResult{
			ExternalOrderID: "ESGO-1",
			ICCID:           "8944500012345678901",
			ActivationCode:  "LPA:1$smdp.example.com$ABC",
		}}
	}
	s := NewService(repo, cat, ledger, prov)
	s.maxProvisionRetries = 3
	return s
}

func TestCreateConsumerOrderTotal(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestOrderService(repo, &fakeLedger{}, nil)

	o, err := svc.CreateConsumerOrder(42, "buyer@example.com", "esim_7D_1GB_US", 2)
	if err != nil {
		t.Fatalf("CreateConsumerOrder failed: %v", err)
	}
	if o.Status != models.OrderStatusCreated {
		t.Fatalf("new order must be ORDER_CREATED, got %s", o.Status)
	}
	if !o.TotalAmount.Equal(decimal.RequireFromString("99.98")) {
		t.Fatalf("total must be unit price x quantity, got %s", o.TotalAmount)
	}
	if !o.IsConsumer() || o.IsVendor() {
		t.Fatalf("order must be attributed to the consumer actor only")
	}
	if o.OrderReference == "" {
		t.Fatalf("order reference must be set")
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    models.OrderStatus
		event   Event
		want    models.OrderStatus
		wantErr error
	}{
		{"created to payment pending", models.OrderStatusCreated, EventPaymentInitiated, models.OrderStatusPaymentPending, nil},
		{"pending to processing", models.OrderStatusPaymentPending, EventPaymentProcessing, models.OrderStatusPaymentProcessing, nil},
		{"processing to paid", models.OrderStatusPaymentProcessing, EventPaymentSucceeded, models.OrderStatusPaid, nil},
		{"pending straight to paid", models.OrderStatusPaymentPending, EventPaymentSucceeded, models.OrderStatusPaid, nil},
		{"paid to provisioning", models.OrderStatusPaid, EventProvisioningStarted, models.OrderStatusProvisioning, nil},
		{"provisioning to completed", models.OrderStatusProvisioning, EventProvisioningSucceeded, models.OrderStatusCompleted, nil},
		{"completed to refunded", models.OrderStatusCompleted, EventRefund, models.OrderStatusRefunded, nil},
		{"created cancel", models.OrderStatusCreated, EventCancel, models.OrderStatusCanceled, nil},
		{"pending sync to sync failed", models.OrderStatusPendingSync, EventSyncFailed, models.OrderStatusSyncFailed, nil},
		{"provisioning before payment rejected", models.OrderStatusPaymentPending, EventProvisioningSucceeded, "", ErrInvalidTransition},
		{"cancel after paid rejected", models.OrderStatusPaid, EventCancel, "", ErrInvalidTransition},
		{"payment event on created rejected", models.OrderStatusCreated, EventPaymentSucceeded, "", ErrInvalidTransition},
		{"refund of canceled rejected", models.OrderStatusCanceled, EventRefund, models.OrderStatusCanceled, nil}, // noop: already terminal refund-adjacent? canceled+refund is noop only for cancel; refund on canceled is invalid
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "refund of canceled rejected" {
				// CANCELED is terminal; refund is not in the table and not a
				// no-op for it.
				if _, ok := nextStatus(models.OrderStatusCanceled, EventRefund); ok {
					t.Fatalf("refund must not be valid from CANCELED")
				}
				if isNoop(models.OrderStatusCanceled, EventRefund) {
					t.Fatalf("refund must not be a no-op for CANCELED")
				}
				return
			}

			repo := newFakeRepo()
			svc := newTestOrderService(repo, &fakeLedger{}, nil)
			uid := uint(1)
			repo.CreateOrder(&models.Order{
				OrderReference: "ORD-T",
				UserID:         &uid,
				Status:         tt.from,
				Quantity:       1,
			})

			o, err := svc.Transition("ORD-T", tt.event, TransitionPayload{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				stored, _ := repo.GetByReference("ORD-T")
				if stored.Status != tt.from {
					t.Fatalf("rejected transition must leave the order untouched, got %s", stored.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition failed: %v", err)
			}
			if o.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, o.Status)
			}
		})
	}
}

func TestPaymentSucceededRedeliveryIsNoop(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestOrderService(repo, &fakeLedger{}, nil)
	uid := uint(7)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-R",
		UserID:         &uid,
		Status:         models.OrderStatusPaymentPending,
		Quantity:       1,
	})

	first, err := svc.Transition("ORD-R", EventPaymentSucceeded, TransitionPayload{})
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if first.Status != models.OrderStatusPaid || first.PaidAt == nil {
		t.Fatalf("order must be PAID with PaidAt set, got %s", first.Status)
	}
	paidAt := *first.PaidAt

	second, err := svc.Transition("ORD-R", EventPaymentSucceeded, TransitionPayload{})
	if err != nil {
		t.Fatalf("redelivery must be a no-op success, got %v", err)
	}
	if second.Status != models.OrderStatusPaid {
		t.Fatalf("redelivery must leave the order PAID, got %s", second.Status)
	}
	if !second.PaidAt.Equal(paidAt) {
		t.Fatalf("redelivery must not restamp PaidAt")
	}
}

func TestPaymentSucceededAfterRefundIsNoop(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestOrderService(repo, &fakeLedger{}, nil)
	uid := uint(7)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-RF",
		UserID:         &uid,
		Status:         models.OrderStatusRefunded,
		Quantity:       1,
	})

	o, err := svc.Transition("ORD-RF", EventPaymentSucceeded, TransitionPayload{})
	if err != nil {
		t.Fatalf("settlement after refund must be a no-op success, got %v", err)
	}
	if o.Status != models.OrderStatusRefunded {
		t.Fatalf("order must stay REFUNDED, got %s", o.Status)
	}
}

func TestProvisioningFailedRedeliveryOnFailedOrderIsNoop(t *testing.T) {
	repo := newFakeRepo()
	ledger := &fakeLedger{}
	svc := newTestOrderService(repo, ledger, nil)
	uid := uint(3)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-FF",
		UserID:         &uid,
		Status:         models.OrderStatusFailed,
		Quantity:       1,
		RetryCount:     4,
	})

	o, err := svc.Transition("ORD-FF", EventProvisioningFailed, TransitionPayload{
		ErrorCode:    "ESIMGO_TIMEOUT",
		ErrorMessage: "upstream timeout",
	})
	if err != nil {
		t.Fatalf("redelivered failure on a FAILED order must be a no-op success, got %v", err)
	}
	if o.Status != models.OrderStatusFailed {
		t.Fatalf("order must stay FAILED, got %s", o.Status)
	}
	if o.RetryCount != 4 {
		t.Fatalf("redelivery must not bump the retry count, got %d", o.RetryCount)
	}
	if len(ledger.reversals) != 0 {
		t.Fatalf("redelivery must not reverse charges again, got %v", ledger.reversals)
	}
}

func TestProvisioningRetryPolicy(t *testing.T) {
	repo := newFakeRepo()
	ledger := &fakeLedger{}
	svc := newTestOrderService(repo, ledger, nil)
	uid := uint(3)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-P",
		UserID:         &uid,
		Status:         models.OrderStatusPaid,
		Quantity:       1,
	})

	// Three transient failures keep the order PAID and count up.
	for i := 1; i <= 3; i++ {
		if _, err := svc.Transition("ORD-P", EventProvisioningStarted, TransitionPayload{}); err != nil {
			t.Fatalf("attempt %d: start failed: %v", i, err)
		}
		o, err := svc.Transition("ORD-P", EventProvisioningFailed, TransitionPayload{
			ErrorCode:    "ESIMGO_TIMEOUT",
			ErrorMessage: "upstream timeout",
		})
		if err != nil {
			t.Fatalf("attempt %d: failure transition failed: %v", i, err)
		}
		if o.Status != models.OrderStatusPaid {
			t.Fatalf("attempt %d: order must stay PAID, got %s", i, o.Status)
		}
		if o.RetryCount != i {
			t.Fatalf("attempt %d: retry count must be %d, got %d", i, i, o.RetryCount)
		}
	}

	// The fourth failure exceeds the maximum and fails the order.
	if _, err := svc.Transition("ORD-P", EventProvisioningStarted, TransitionPayload{}); err != nil {
		t.Fatalf("final start failed: %v", err)
	}
	o, err := svc.Transition("ORD-P", EventProvisioningFailed, TransitionPayload{
		ErrorCode:    "ESIMGO_TIMEOUT",
		ErrorMessage: "upstream timeout",
	})
	if err != nil {
		t.Fatalf("final failure transition failed: %v", err)
	}
	if o.Status != models.OrderStatusFailed {
		t.Fatalf("order must be FAILED after exhausting retries, got %s", o.Status)
	}
	if o.ErrorMessage == "" {
		t.Fatalf("failed order must carry an error message")
	}
}

func TestExhaustedVendorOrderReversesCharge(t *testing.T) {
	repo := newFakeRepo()
	ledger := &fakeLedger{}
	svc := newTestOrderService(repo, ledger, nil)
	vid := uint(5)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-V",
		VendorID:       &vid,
		Status:         models.OrderStatusProvisioning,
		Quantity:       1,
		RetryCount:     3,
	})

	o, err := svc.Transition("ORD-V", EventProvisioningFailed, TransitionPayload{
		ErrorCode:    "ESIMGO_DOWN",
		ErrorMessage: "service unavailable",
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if o.Status != models.OrderStatusFailed {
		t.Fatalf("expected FAILED, got %s", o.Status)
	}
	if len(ledger.reversals) != 1 || ledger.reversals[0] != o.ID {
		t.Fatalf("terminal vendor failure must reverse the posted charge, got %v", ledger.reversals)
	}
}

func TestCreateVendorOrderChargesLedger(t *testing.T) {
	repo := newFakeRepo()
	ledger := &fakeLedger{vendor: &models.Vendor{
		ID:            5,
		Status:        models.VendorStatusActive,
		APIEnabled:    true,
		IsVerified:    true,
		BillingMode:   models.BillingModePrepaid,
		WalletBalance: decimal.RequireFromString("100.00"),
	}}
	svc := newTestOrderService(repo, ledger, nil)

	o, err := svc.CreateVendorOrder(5, "esim_7D_1GB_US", 1)
	if err != nil {
		t.Fatalf("CreateVendorOrder failed: %v", err)
	}
	if o.Status != models.OrderStatusPaid {
		t.Fatalf("vendor order must be created PAID, got %s", o.Status)
	}
	if len(ledger.charges) != 1 || !ledger.charges[0].Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("expected one 49.99 charge, got %v", ledger.charges)
	}
}

func TestCreateVendorOrderInsufficientFunds(t *testing.T) {
	repo := newFakeRepo()
	insufficient := errors.New("insufficient funds")
	ledger := &fakeLedger{
		vendor: &models.Vendor{
			ID:         5,
			Status:     models.VendorStatusActive,
			APIEnabled: true,
			IsVerified: true,
		},
		chargeErr: insufficient,
	}
	svc := newTestOrderService(repo, ledger, nil)

	_, err := svc.CreateVendorOrder(5, "esim_7D_1GB_US", 1)
	if !errors.Is(err, insufficient) {
		t.Fatalf("expected the ledger error to surface, got %v", err)
	}

	// The order record is kept FAILED for audit.
	var failed *models.Order
	for _, o := range repo.orders {
		failed = o
	}
	if failed == nil || failed.Status != models.OrderStatusFailed {
		t.Fatalf("declined vendor order must be recorded FAILED")
	}
}

func TestCreateVendorOrderIneligibleVendor(t *testing.T) {
	repo := newFakeRepo()
	ledger := &fakeLedger{vendor: &models.Vendor{
		ID:     5,
		Status: models.VendorStatusSuspended,
	}}
	svc := newTestOrderService(repo, ledger, nil)

	_, err := svc.CreateVendorOrder(5, "esim_7D_1GB_US", 1)
	if !errors.Is(err, ErrVendorNotEligible) {
		t.Fatalf("expected ErrVendorNotEligible, got %v", err)
	}
}

func TestProvisionOrderSuccessRecordsEsim(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestOrderService(repo, &fakeLedger{}, nil)
	uid := uint(9)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-E",
		UserID:         &uid,
		Status:         models.OrderStatusPaid,
		BundleCode:     "esim_7D_1GB_US",
		Quantity:       1,
		ValidityDays:   7,
	})

	o, err := svc.ProvisionOrder("ORD-E")
	if err != nil {
		t.Fatalf("ProvisionOrder failed: %v", err)
	}
	if o.Status != models.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", o.Status)
	}
	if o.ICCID == "" || o.EsimgoOrderID == "" {
		t.Fatalf("provisioning outputs must be recorded")
	}
	if len(repo.esims) != 1 {
		t.Fatalf("completion must create one esim record, got %d", len(repo.esims))
	}
	if repo.esims[0].ExpiresAt == nil {
		t.Fatalf("esim expiry must be derived from validity days")
	}
}

func TestProvisionOrderTransientFailureStaysRetryEligible(t *testing.T) {
	repo := newFakeRepo()
	prov := &fakeProvisioner{
		result: &ProvisionResult{ExternalOrderID: "ESGO-2", ICCID: "89445000987654"},
		errs:   []error{&transientProvisionErr{msg: "gateway timeout"}},
	}
	svc := newTestOrderService(repo, &fakeLedger{}, prov)
	uid := uint(9)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-TR",
		UserID:         &uid,
		Status:         models.OrderStatusPaid,
		BundleCode:     "esim_7D_1GB_US",
		Quantity:       1,
	})

	o, err := svc.ProvisionOrder("ORD-TR")
	if err != nil {
		t.Fatalf("ProvisionOrder failed: %v", err)
	}
	if o.Status != models.OrderStatusPaid || o.RetryCount != 1 {
		t.Fatalf("transient failure must leave order PAID with retry count 1, got %s/%d", o.Status, o.RetryCount)
	}

	// The retry succeeds.
	o, err = svc.ProvisionOrder("ORD-TR")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if o.Status != models.OrderStatusCompleted {
		t.Fatalf("retry must complete the order, got %s", o.Status)
	}
}

func TestProvisionOrderPermanentFailureFailsImmediately(t *testing.T) {
	repo := newFakeRepo()
	prov := &fakeProvisioner{errs: []error{errors.New("unknown bundle code")}}
	svc := newTestOrderService(repo, &fakeLedger{}, prov)
	uid := uint(9)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-PF",
		UserID:         &uid,
		Status:         models.OrderStatusPaid,
		BundleCode:     "bogus",
		Quantity:       1,
	})

	o, err := svc.ProvisionOrder("ORD-PF")
	if err != nil {
		t.Fatalf("ProvisionOrder failed: %v", err)
	}
	if o.Status != models.OrderStatusFailed {
		t.Fatalf("permanent failure must fail the order immediately, got %s", o.Status)
	}
}

func TestCancelOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestOrderService(repo, &fakeLedger{}, nil)
	uid := uint(1)
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-C1",
		UserID:         &uid,
		Status:         models.OrderStatusPaymentPending,
		Quantity:       1,
	})
	repo.CreateOrder(&models.Order{
		OrderReference: "ORD-C2",
		UserID:         &uid,
		Status:         models.OrderStatusPaid,
		Quantity:       1,
	})

	o, err := svc.CancelOrder("ORD-C1", "user:1")
	if err != nil {
		t.Fatalf("cancel of PAYMENT_PENDING order failed: %v", err)
	}
	if o.Status != models.OrderStatusCanceled || o.CanceledAt == nil {
		t.Fatalf("expected CANCELED with timestamp, got %s", o.Status)
	}

	if _, err := svc.CancelOrder("ORD-C2", "user:1"); !errors.Is(err, ErrCannotCancel) {
		t.Fatalf("cancel of PAID order must fail with ErrCannotCancel, got %v", err)
	}
}
