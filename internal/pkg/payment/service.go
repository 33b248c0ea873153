package payment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/tiktel/ttelgo/app/models"
	"github.com/tiktel/ttelgo/internal/pkg/env"
	"gorm.io/gorm"
)

// ErrPaymentNotFound means no payment row exists for the lookup key.
var ErrPaymentNotFound = errors.New("payment: not found")

// IntentCreator is the Stripe call the service makes, injectable for tests.
type IntentCreator func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)

// Service creates payment intents for checkout and wallet top-ups and owns
// the payment rows until the webhook processor takes over.
type Service struct {
	repo         Repository
	createIntent IntentCreator
}

// SetupStripe configures the global Stripe client key from the environment.
func SetupStripe() {
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
}

// NewService creates a payment service from injected dependencies.
func NewService(repo Repository, createIntent IntentCreator) *Service {
	if createIntent == nil {
		createIntent = paymentintent.New
	}
	return &Service{repo: repo, createIntent: createIntent}
}

// NewServiceFromDB creates a payment service from a GORM DB handle using
// the real Stripe client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), nil)
}

// amountToCents converts a decimal major-unit amount to Stripe's integer
// minor units.
func amountToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreateOrderIntent creates a Stripe payment intent for a consumer order
// and records the payment row. The returned client secret completes the
// payment on the client side.
func (s *Service) CreateOrderIntent(o *models.Order) (*models.Payment, string, error) {
	token := uuid.NewString()
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountToCents(o.TotalAmount)),
		Currency: stripe.String(o.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("type", "B2C_ORDER")
	params.AddMetadata("order_reference", o.OrderReference)
	if o.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(o.CustomerEmail)
	}
	params.IdempotencyKey = stripe.String(token)

	pi, err := s.createIntent(params)
	if err != nil {
		return nil, "", fmt.Errorf("payment: creating intent for %s: %w", o.OrderReference, err)
	}

	p := &models.Payment{
		OrderID:          &o.ID,
		PaymentIntentID:  pi.ID,
		Amount:           o.TotalAmount,
		Currency:         o.Currency,
		Status:           models.PaymentStatusCreated,
		IdempotencyToken: token,
	}
	if err := s.repo.Create(p); err != nil {
		return nil, "", err
	}
	return p, pi.ClientSecret, nil
}

// CreateTopUpIntent creates a Stripe payment intent that credits a vendor's
// prepaid wallet once the processor reports success.
func (s *Service) CreateTopUpIntent(vendorID uint, amount decimal.Decimal, currency string) (*models.Payment, string, error) {
	if !amount.IsPositive() {
		return nil, "", fmt.Errorf("payment: top-up amount must be positive, got %s", amount)
	}
	token := uuid.NewString()
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountToCents(amount)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("type", "VENDOR_TOPUP")
	params.AddMetadata("vendor_id", fmt.Sprintf("%d", vendorID))
	params.IdempotencyKey = stripe.String(token)

	pi, err := s.createIntent(params)
	if err != nil {
		return nil, "", fmt.Errorf("payment: creating top-up intent for vendor %d: %w", vendorID, err)
	}

	p := &models.Payment{
		VendorID:         &vendorID,
		PaymentIntentID:  pi.ID,
		Amount:           amount,
		Currency:         currency,
		Status:           models.PaymentStatusCreated,
		IdempotencyToken: token,
	}
	if err := s.repo.Create(p); err != nil {
		return nil, "", err
	}
	return p, pi.ClientSecret, nil
}

// GetByIntentID loads a payment by the processor's intent id.
func (s *Service) GetByIntentID(intentID string) (*models.Payment, error) {
	p, err := s.repo.GetByIntentID(intentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// GetByOrderID loads the payment attempt for an order.
func (s *Service) GetByOrderID(orderID uint) (*models.Payment, error) {
	p, err := s.repo.GetByOrderID(orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// Save persists processor-driven mutations to a payment row.
func (s *Service) Save(p *models.Payment) error {
	return s.repo.Save(p)
}
