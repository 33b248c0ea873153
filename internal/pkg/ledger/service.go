package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientFunds means a debit would take the vendor's balance
	// below zero under its billing mode. No entry is written.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrVendorNotFound means the vendor does not exist.
	ErrVendorNotFound = errors.New("ledger: vendor not found")
	// ErrEntryNotFound means the ledger entry does not exist.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrEntryReversed means the entry was already reversed; reversals are
	// one-shot.
	ErrEntryReversed = errors.New("ledger: entry already reversed")
	// ErrInvalidAmount rejects zero or negative magnitudes before any write.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Service owns vendor balances. Every balance mutation flows through a
// ledger entry posted atomically with the vendor row update; per-vendor
// postings serialize on the vendor row lock so balanceAfter snapshots form
// a gapless sequence.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// NewReferenceNumber mints the unique reference carried by every entry.
func NewReferenceNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "LED-" + strings.ToUpper(raw[:16])
}

// applyToBalance moves the vendor's stored balance by the entry's signed
// amount. Prepaid vendors spend their wallet; postpaid vendors accrue
// outstanding debt against their credit limit.
func applyToBalance(v *models.Vendor, signed decimal.Decimal) {
	if v.BillingMode == models.BillingModePostpaid {
		v.OutstandingBalance = v.OutstandingBalance.Sub(signed)
		return
	}
	v.WalletBalance = v.WalletBalance.Add(signed)
}

func (s *Service) post(vendorID uint, entryType string, signed decimal.Decimal, currency string, orderID, paymentID *uint, description, actor string) (*models.LedgerEntry, error) {
	entry, err := s.repo.Post(vendorID, func(v *models.Vendor) (*models.LedgerEntry, error) {
		if signed.IsNegative() && !v.HasSufficientBalance(signed.Neg()) {
			return nil, ErrInsufficientFunds
		}
		applyToBalance(v, signed)
		if currency == "" {
			currency = v.Currency
		}
		return &models.LedgerEntry{
			VendorID:        vendorID,
			Type:            entryType,
			Amount:          signed,
			Currency:        currency,
			BalanceAfter:    v.AvailableBalance(),
			Status:          models.LedgerEntryStatusPosted,
			OrderID:         orderID,
			PaymentID:       paymentID,
			Description:     description,
			ReferenceNumber: NewReferenceNumber(),
			CreatedBy:       actor,
		}, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVendorNotFound
	}
	return entry, err
}

// PostCharge debits the vendor for an order. amount is the positive
// magnitude; the entry is recorded with a negative signed amount.
func (s *Service) PostCharge(vendorID uint, amount decimal.Decimal, currency string, orderID uint, reference, actor string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	desc := "charge for order " + reference
	return s.post(vendorID, models.LedgerEntryTypeCharge, amount.Neg(), currency, &orderID, nil, desc, actor)
}

// PostCredit credits the vendor, e.g. a wallet top-up settled by the card
// processor.
func (s *Service) PostCredit(vendorID uint, amount decimal.Decimal, currency string, paymentID *uint, description, actor string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return s.post(vendorID, models.LedgerEntryTypeCredit, amount, currency, nil, paymentID, description, actor)
}

// PostTopUpCredit credits the vendor for a settled top-up payment. It is
// idempotent per payment: if a posted credit for paymentID already exists,
// the stored entry is returned and the balance is untouched, so a
// redelivered settlement event cannot credit the vendor twice.
func (s *Service) PostTopUpCredit(vendorID uint, amount decimal.Decimal, currency string, paymentID uint, description, actor string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entry, err := s.repo.PostCreditOnce(vendorID, paymentID, func(v *models.Vendor) (*models.LedgerEntry, error) {
		applyToBalance(v, amount)
		if currency == "" {
			currency = v.Currency
		}
		pid := paymentID
		return &models.LedgerEntry{
			VendorID:        vendorID,
			Type:            models.LedgerEntryTypeCredit,
			Amount:          amount,
			Currency:        currency,
			BalanceAfter:    v.AvailableBalance(),
			Status:          models.LedgerEntryStatusPosted,
			PaymentID:       &pid,
			Description:     description,
			ReferenceNumber: NewReferenceNumber(),
			CreatedBy:       actor,
		}, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVendorNotFound
	}
	return entry, err
}

// PostRefund returns money to the vendor for a refunded order.
func (s *Service) PostRefund(vendorID uint, amount decimal.Decimal, currency string, orderID *uint, paymentID *uint, actor string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return s.post(vendorID, models.LedgerEntryTypeRefund, amount, currency, orderID, paymentID, "refund", actor)
}

// PostAdjustment posts a signed manual correction (admin only).
func (s *Service) PostAdjustment(vendorID uint, signed decimal.Decimal, description, actor string) (*models.LedgerEntry, error) {
	if signed.IsZero() {
		return nil, ErrInvalidAmount
	}
	return s.post(vendorID, models.LedgerEntryTypeAdjustment, signed, "", nil, nil, description, actor)
}

// Reverse posts a new entry with the negated amount of entryID, restores
// the prior balance and links the two entries bidirectionally. The original
// entry is never mutated beyond its reversal flags.
func (s *Service) Reverse(entryID uint, actor string) (*models.LedgerEntry, error) {
	entry, err := s.repo.Reverse(entryID, func(v *models.Vendor, original *models.LedgerEntry) (*models.LedgerEntry, error) {
		if original.Status == models.LedgerEntryStatusReversed {
			return nil, ErrEntryReversed
		}
		negated := original.Amount.Neg()
		if negated.IsNegative() && !v.HasSufficientBalance(negated.Neg()) {
			return nil, ErrInsufficientFunds
		}
		applyToBalance(v, negated)
		originalID := original.ID
		return &models.LedgerEntry{
			VendorID:        original.VendorID,
			Type:            models.LedgerEntryTypeReversal,
			Amount:          negated,
			Currency:        original.Currency,
			BalanceAfter:    v.AvailableBalance(),
			Status:          models.LedgerEntryStatusPosted,
			OrderID:         original.OrderID,
			PaymentID:       original.PaymentID,
			RelatedEntryID:  &originalID,
			Description:     "reversal of " + original.ReferenceNumber,
			ReferenceNumber: NewReferenceNumber(),
			CreatedBy:       actor,
		}, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

// ReverseOrderCharge reverses the posted charge for an order, used as the
// compensating action when a paid vendor order fails terminally.
func (s *Service) ReverseOrderCharge(orderID uint, actor string) error {
	charge, err := s.repo.FindPostedChargeByOrder(orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Nothing was charged, nothing to compensate.
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.Reverse(charge.ID, actor)
	return err
}

// GetVendor loads a vendor by id.
func (s *Service) GetVendor(vendorID uint) (*models.Vendor, error) {
	v, err := s.repo.GetVendor(vendorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVendorNotFound
	}
	return v, err
}

// GetVendorByAPIKey resolves a vendor from a raw API key.
func (s *Service) GetVendorByAPIKey(key string) (*models.Vendor, error) {
	v, err := s.repo.GetVendorByAPIKeyHash(models.HashVendorAPIKey(key))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVendorNotFound
	}
	return v, err
}

// ListEntries returns the vendor's most recent ledger entries.
func (s *Service) ListEntries(vendorID uint, limit, offset int) ([]models.LedgerEntry, error) {
	return s.repo.ListEntries(vendorID, limit, offset)
}

// ListVendors returns vendors for the admin listing.
func (s *Service) ListVendors(limit, offset int) ([]models.Vendor, error) {
	return s.repo.ListVendors(limit, offset)
}

// RecalculateBalance replays the vendor's entries newest-first and checks
// that the balanceAfter chain is gapless: each snapshot must equal the next
// older snapshot plus the entry's signed amount. It returns the snapshot of
// the newest entry, which must match the stored balance.
func (s *Service) RecalculateBalance(vendorID uint, entries []models.LedgerEntry) (decimal.Decimal, bool) {
	if len(entries) == 0 {
		return decimal.Zero, true
	}
	for i := 0; i < len(entries)-1; i++ {
		expected := entries[i+1].BalanceAfter.Add(entries[i].Amount)
		if !entries[i].BalanceAfter.Equal(expected) {
			return decimal.Zero, false
		}
	}
	oldest := entries[len(entries)-1]
	if !oldest.BalanceAfter.Equal(oldest.Amount) {
		// The oldest snapshot must equal the entry amount applied to an
		// empty account; vendors seeded with an opening adjustment satisfy
		// this by construction.
		return decimal.Zero, false
	}
	return entries[0].BalanceAfter, true
}

// CreateVendor registers a vendor in pending approval and returns the raw
// API key exactly once; only its hash is stored.
func (s *Service) CreateVendor(name, companyName, email, billingMode string) (*models.Vendor, string, error) {
	if billingMode != models.BillingModePrepaid && billingMode != models.BillingModePostpaid {
		billingMode = models.BillingModePrepaid
	}
	rawKey, err := newSecret(32)
	if err != nil {
		return nil, "", err
	}
	webhookSecret, err := newSecret(32)
	if err != nil {
		return nil, "", err
	}
	v := &models.Vendor{
		Name:          name,
		CompanyName:   companyName,
		Email:         email,
		BillingMode:   billingMode,
		Status:        models.VendorStatusPendingApproval,
		Currency:      "USD",
		APIEnabled:    true,
		APIKeyHash:    models.HashVendorAPIKey(rawKey),
		WebhookSecret: webhookSecret,
	}
	if err := s.repo.CreateVendor(v); err != nil {
		return nil, "", err
	}
	return v, rawKey, nil
}

// ApproveVendor activates a pending vendor.
func (s *Service) ApproveVendor(vendorID uint) (*models.Vendor, error) {
	v, err := s.GetVendor(vendorID)
	if err != nil {
		return nil, err
	}
	v.Status = models.VendorStatusActive
	v.IsVerified = true
	if err := s.repo.SaveVendor(v); err != nil {
		return nil, err
	}
	return v, nil
}

// SuspendVendor blocks further orders without touching balances.
func (s *Service) SuspendVendor(vendorID uint) (*models.Vendor, error) {
	v, err := s.GetVendor(vendorID)
	if err != nil {
		return nil, err
	}
	v.Status = models.VendorStatusSuspended
	if err := s.repo.SaveVendor(v); err != nil {
		return nil, err
	}
	return v, nil
}

func newSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
