package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"github.com/tiktel/ttelgo/internal/pkg/ledger"
	"github.com/tiktel/ttelgo/internal/pkg/middleware"
	"github.com/tiktel/ttelgo/internal/pkg/order"
	"github.com/tiktel/ttelgo/internal/pkg/payment"
)

// VendorController exposes the B2B API: ordering against the ledger
// balance, wallet top-ups and ledger inspection. All routes sit behind the
// vendor API-key middleware.
type VendorController struct {
	orders   *order.Service
	ledger   *ledger.Service
	payments *payment.Service
	validate *validator.Validate
}

// NewVendorController creates the vendor controller.
func NewVendorController(orders *order.Service, ledgerSvc *ledger.Service, payments *payment.Service) *VendorController {
	return &VendorController{
		orders:   orders,
		ledger:   ledgerSvc,
		payments: payments,
		validate: validator.New(),
	}
}

type vendorOrderRequest struct {
	BundleCode string `json:"bundle_code" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,min=1,max=50"`
}

// CreateOrder places an order paid from the vendor's balance and kicks
// provisioning synchronously. Transient provisioning failures leave the
// order retry-eligible for the reconciliation sweep.
func (vc *VendorController) CreateOrder(c *fiber.Ctx) error {
	vendor := middleware.VendorFromContext(c)

	var req vendorOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed request body"})
	}
	if err := vc.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	o, err := vc.orders.CreateVendorOrder(vendor.ID, req.BundleCode, req.Quantity)
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "insufficient_funds", "message": "Vendor balance does not cover this order"})
	case errors.Is(err, order.ErrVendorNotEligible):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Vendor account may not place orders"})
	case err != nil:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "order_failed", "message": err.Error()})
	}

	provisioned, err := vc.orders.ProvisionOrder(o.OrderReference)
	if err != nil {
		// The order stays PAID; the sweep will pick it up.
		log.Errorf("vendor order %s: provisioning kick failed: %v", o.OrderReference, err)
		provisioned = o
	}

	return c.Status(fiber.StatusCreated).JSON(orderJSON(provisioned))
}

// ListOrders returns the vendor's recent orders.
func (vc *VendorController) ListOrders(c *fiber.Ctx) error {
	vendor := middleware.VendorFromContext(c)
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	orders, err := vc.orders.ListVendorOrders(vendor.ID, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	out := make([]fiber.Map, 0, len(orders))
	for i := range orders {
		out = append(out, orderJSON(&orders[i]))
	}
	return c.JSON(fiber.Map{"orders": out})
}

// GetBalance returns the vendor's balance under its billing mode.
func (vc *VendorController) GetBalance(c *fiber.Ctx) error {
	vendor := middleware.VendorFromContext(c)
	v, err := vc.ledger.GetVendor(vendor.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	out := fiber.Map{
		"billing_mode":      v.BillingMode,
		"currency":          v.Currency,
		"available_balance": v.AvailableBalance(),
	}
	if v.BillingMode == "postpaid" {
		out["credit_limit"] = v.CreditLimit
		out["outstanding_balance"] = v.OutstandingBalance
	} else {
		out["wallet_balance"] = v.WalletBalance
	}
	return c.JSON(out)
}

// ListLedger returns the vendor's ledger entries newest-first.
func (vc *VendorController) ListLedger(c *fiber.Ctx) error {
	vendor := middleware.VendorFromContext(c)
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := vc.ledger.ListEntries(vendor.ID, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"entries": entries})
}

type topUpRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// TopUp opens a card payment that credits the vendor's prepaid wallet once
// the processor confirms it.
func (vc *VendorController) TopUp(c *fiber.Ctx) error {
	vendor := middleware.VendorFromContext(c)

	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed request body"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "amount must be a positive decimal string"})
	}

	p, clientSecret, err := vc.payments.CreateTopUpIntent(vendor.ID, amount, vendor.Currency)
	if err != nil {
		log.Errorf("vendor %d top-up intent: %v", vendor.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_provider_error", "message": "Could not initiate payment"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_intent_id": p.PaymentIntentID,
		"amount":            p.Amount,
		"currency":          p.Currency,
		"client_secret":     clientSecret,
	})
}
