package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/tiktel/ttelgo/app/models"
	"gorm.io/gorm"
)

type fakeRepo struct {
	payments []*models.Payment
}

func (f *fakeRepo) Create(p *models.Payment) error {
	p.ID = uint(len(f.payments) + 1)
	cp := *p
	f.payments = append(f.payments, &cp)
	return nil
}

func (f *fakeRepo) GetByIntentID(intentID string) (*models.Payment, error) {
	for _, p := range f.payments {
		if p.PaymentIntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetByOrderID(orderID uint) (*models.Payment, error) {
	for _, p := range f.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) Save(p *models.Payment) error {
	for i, existing := range f.payments {
		if existing.ID == p.ID {
			cp := *p
			f.payments[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func captureIntent(captured **stripe.PaymentIntentParams) IntentCreator {
	return func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		*captured = params
		return &stripe.PaymentIntent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
	}
}

func TestCreateOrderIntent(t *testing.T) {
	repo := &fakeRepo{}
	var captured *stripe.PaymentIntentParams
	svc := NewService(repo, captureIntent(&captured))

	o := &models.Order{
		ID:             3,
		OrderReference: "ORD-ABC",
		TotalAmount:    decimal.RequireFromString("49.99"),
		Currency:       "USD",
		CustomerEmail:  "buyer@example.com",
	}

	p, secret, err := svc.CreateOrderIntent(o)
	if err != nil {
		t.Fatalf("CreateOrderIntent failed: %v", err)
	}
	if secret != "pi_test_secret" {
		t.Fatalf("client secret must be returned")
	}
	if *captured.Amount != 4999 {
		t.Fatalf("amount must be in minor units, got %d", *captured.Amount)
	}
	if captured.Metadata["type"] != "B2C_ORDER" || captured.Metadata["order_reference"] != "ORD-ABC" {
		t.Fatalf("intent metadata must attribute the order, got %v", captured.Metadata)
	}
	if captured.IdempotencyKey == nil || *captured.IdempotencyKey == "" {
		t.Fatalf("intent creation must carry an idempotency key")
	}
	if p.PaymentIntentID != "pi_test" || p.OrderID == nil || *p.OrderID != 3 {
		t.Fatalf("payment row must link intent and order, got %+v", p)
	}
	if p.Status != models.PaymentStatusCreated {
		t.Fatalf("new payment must start created, got %s", p.Status)
	}
}

func TestCreateTopUpIntent(t *testing.T) {
	repo := &fakeRepo{}
	var captured *stripe.PaymentIntentParams
	svc := NewService(repo, captureIntent(&captured))

	p, _, err := svc.CreateTopUpIntent(5, decimal.RequireFromString("100.00"), "USD")
	if err != nil {
		t.Fatalf("CreateTopUpIntent failed: %v", err)
	}
	if captured.Metadata["type"] != "VENDOR_TOPUP" || captured.Metadata["vendor_id"] != "5" {
		t.Fatalf("top-up metadata must attribute the vendor, got %v", captured.Metadata)
	}
	if *captured.Amount != 10000 {
		t.Fatalf("amount must be 10000 minor units, got %d", *captured.Amount)
	}
	if p.VendorID == nil || *p.VendorID != 5 || p.OrderID != nil {
		t.Fatalf("top-up payment must link the vendor only, got %+v", p)
	}
}

func TestCreateTopUpIntentRejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(&fakeRepo{}, captureIntent(new(*stripe.PaymentIntentParams)))
	if _, _, err := svc.CreateTopUpIntent(5, decimal.Zero, "USD"); err == nil {
		t.Fatalf("zero amount must be rejected")
	}
}
