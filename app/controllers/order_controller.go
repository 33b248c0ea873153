package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/tiktel/ttelgo/app/models"
	"github.com/tiktel/ttelgo/internal/pkg/middleware"
	"github.com/tiktel/ttelgo/internal/pkg/order"
)

// OrderController exposes order lookup and cancellation.
type OrderController struct {
	orders *order.Service
}

// NewOrderController creates the order controller.
func NewOrderController(orders *order.Service) *OrderController {
	return &OrderController{orders: orders}
}

func orderJSON(o *models.Order) fiber.Map {
	out := fiber.Map{
		"order_reference": o.OrderReference,
		"bundle_code":     o.BundleCode,
		"bundle_name":     o.BundleName,
		"quantity":        o.Quantity,
		"unit_price":      o.UnitPrice,
		"total_amount":    o.TotalAmount,
		"currency":        o.Currency,
		"status":          o.Status,
		"payment_status":  o.PaymentStatus,
		"created_at":      o.CreatedAt,
	}
	if o.ICCID != "" {
		out["iccid"] = o.ICCID
		out["activation_code"] = o.ActivationCode
	}
	if o.ErrorCode != "" {
		out["error_code"] = o.ErrorCode
		out["error_message"] = o.ErrorMessage
	}
	return out
}

// GetOrder returns one order by its external reference.
func (oc *OrderController) GetOrder(c *fiber.Ctx) error {
	o, err := oc.orders.GetByReference(c.Params("reference"))
	if errors.Is(err, order.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(orderJSON(o))
}

// CancelOrder cancels an order that has not progressed past the cancelable
// states.
func (oc *OrderController) CancelOrder(c *fiber.Ctx) error {
	actor := middleware.ActorFromContext(c)
	o, err := oc.orders.CancelOrder(c.Params("reference"), actor)
	switch {
	case errors.Is(err, order.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
	case errors.Is(err, order.ErrCannotCancel):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "cannot_cancel", "message": "Order can no longer be canceled; request a refund instead"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(orderJSON(o))
}
