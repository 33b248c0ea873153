package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/tiktel/ttelgo/internal/pkg/ledger"
	"github.com/tiktel/ttelgo/internal/pkg/order"
	"github.com/tiktel/ttelgo/internal/pkg/webhook"
)

// AdminController exposes operator endpoints: vendor administration,
// stuck-event review and manual order retries. All routes sit behind the
// admin token middleware.
type AdminController struct {
	orders   *order.Service
	ledger   *ledger.Service
	webhooks *webhook.Service
	validate *validator.Validate
}

// NewAdminController creates the admin controller.
func NewAdminController(orders *order.Service, ledgerSvc *ledger.Service, webhooks *webhook.Service) *AdminController {
	return &AdminController{
		orders:   orders,
		ledger:   ledgerSvc,
		webhooks: webhooks,
		validate: validator.New(),
	}
}

// ListUnprocessedEvents returns webhook events that exhausted their
// processing attempts and need an operator's eyes.
func (ac *AdminController) ListUnprocessedEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	events, err := ac.webhooks.ListExhausted(limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"events": events})
}

// RetryProvisioning re-kicks provisioning for a stuck order.
func (ac *AdminController) RetryProvisioning(c *fiber.Ctx) error {
	o, err := ac.orders.RetryProvisioning(c.Params("reference"))
	switch {
	case errors.Is(err, order.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
	case errors.Is(err, order.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_retryable", "message": "Order is not in a retryable state"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(orderJSON(o))
}

type createVendorRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=150"`
	CompanyName string `json:"company_name"`
	Email       string `json:"email" validate:"required,email"`
	BillingMode string `json:"billing_mode" validate:"omitempty,oneof=prepaid postpaid"`
}

// CreateVendor registers a vendor. The raw API key is returned exactly
// once; only its hash is stored.
func (ac *AdminController) CreateVendor(c *fiber.Ctx) error {
	var req createVendorRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed request body"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	v, rawKey, err := ac.ledger.CreateVendor(req.Name, req.CompanyName, req.Email, req.BillingMode)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "vendor_creation_failed", "message": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"vendor":  v,
		"api_key": rawKey,
	})
}

// ListVendors returns all vendors.
func (ac *AdminController) ListVendors(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	vendors, err := ac.ledger.ListVendors(limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"vendors": vendors})
}

// ApproveVendor activates a pending vendor account.
func (ac *AdminController) ApproveVendor(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Invalid vendor id"})
	}
	v, err := ac.ledger.ApproveVendor(uint(id))
	if errors.Is(err, ledger.ErrVendorNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Vendor not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(v)
}

// SuspendVendor blocks a vendor from placing further orders.
func (ac *AdminController) SuspendVendor(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Invalid vendor id"})
	}
	v, err := ac.ledger.SuspendVendor(uint(id))
	if errors.Is(err, ledger.ErrVendorNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Vendor not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(v)
}

type adjustBalanceRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"required,min=3"`
}

// AdjustBalance posts a signed manual correction to a vendor's ledger.
func (ac *AdminController) AdjustBalance(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Invalid vendor id"})
	}

	var req adjustBalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed request body"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "amount must be a signed decimal string"})
	}

	entry, err := ac.ledger.PostAdjustment(uint(id), amount, req.Description, "admin")
	switch {
	case errors.Is(err, ledger.ErrVendorNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Vendor not found"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "insufficient_funds", "message": "Adjustment would take the balance below zero"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "amount must be non-zero"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// ReverseEntry reverses one ledger entry by posting its mirror image.
func (ac *AdminController) ReverseEntry(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Invalid entry id"})
	}

	entry, err := ac.ledger.Reverse(uint(id), "admin")
	switch {
	case errors.Is(err, ledger.ErrEntryNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Ledger entry not found"})
	case errors.Is(err, ledger.ErrEntryReversed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_reversed", "message": "Entry was already reversed"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "insufficient_funds", "message": "Reversal would take the balance below zero"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// ListVendorLedger returns a vendor's ledger entries for audit.
func (ac *AdminController) ListVendorLedger(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Invalid vendor id"})
	}
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	entries, err := ac.ledger.ListEntries(uint(id), limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"entries": entries})
}
