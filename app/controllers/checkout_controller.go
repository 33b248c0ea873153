package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/tiktel/ttelgo/app/models"
	"github.com/tiktel/ttelgo/internal/pkg/database"
	"github.com/tiktel/ttelgo/internal/pkg/order"
	"github.com/tiktel/ttelgo/internal/pkg/payment"
	"gorm.io/gorm"
)

// CheckoutController handles B2C checkout initiation.
type CheckoutController struct {
	orders   *order.Service
	payments *payment.Service
	validate *validator.Validate
}

// NewCheckoutController creates the checkout controller.
func NewCheckoutController(orders *order.Service, payments *payment.Service) *CheckoutController {
	return &CheckoutController{
		orders:   orders,
		payments: payments,
		validate: validator.New(),
	}
}

type checkoutRequest struct {
	Email      string `json:"email" validate:"required,email"`
	BundleCode string `json:"bundle_code" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,min=1,max=10"`
}

// Checkout creates a consumer order, opens a payment intent and returns the
// client secret. The route sits behind the idempotency middleware, so a
// retried request with the same Idempotency-Key replays this response.
func (ct *CheckoutController) Checkout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed request body"})
	}
	if err := ct.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	user, err := findOrCreateUserByEmail(req.Email)
	if err != nil {
		log.Errorf("checkout: resolving user %s: %v", req.Email, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	o, err := ct.orders.CreateConsumerOrder(user.ID, req.Email, req.BundleCode, req.Quantity)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "checkout_failed", "message": err.Error()})
	}

	_, clientSecret, err := ct.payments.CreateOrderIntent(o)
	if err != nil {
		log.Errorf("checkout: payment intent for %s: %v", o.OrderReference, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_provider_error", "message": "Could not initiate payment"})
	}

	if _, err := ct.orders.Transition(o.OrderReference, order.EventPaymentInitiated, order.TransitionPayload{}); err != nil {
		log.Errorf("checkout: moving %s to payment pending: %v", o.OrderReference, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_reference": o.OrderReference,
		"bundle_code":     o.BundleCode,
		"quantity":        o.Quantity,
		"total_amount":    o.TotalAmount,
		"currency":        o.Currency,
		"client_secret":   clientSecret,
	})
}

// findOrCreateUserByEmail attributes guest checkouts to a user record so
// every order has exactly one actor.
func findOrCreateUserByEmail(email string) (*models.User, error) {
	db := database.GetDB()
	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		Name:   email,
		Email:  email,
		Role:   models.ROLE_USER,
		Status: models.STATUS_ACTIVE,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
