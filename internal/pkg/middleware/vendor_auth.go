package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/tiktel/ttelgo/app/models"
	"github.com/tiktel/ttelgo/internal/pkg/ledger"
)

// Locals keys set by the auth middlewares.
const (
	KeyVendorID = "VENDOR_ID"
	KeyVendor   = "VENDOR"
	KeyActor    = "ACTOR"
)

// VendorAuthMiddleware authenticates vendor API requests via the X-API-Key
// header and stores the vendor and its actor string in locals.
func VendorAuthMiddleware(ledgerSvc *ledger.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		vendor, err := ledgerSvc.GetVendorByAPIKey(apiKey)
		if err != nil {
			if errors.Is(err, ledger.ErrVendorNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if vendor.Status != models.VendorStatusActive || !vendor.APIEnabled {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Vendor account is not active"})
		}

		c.Locals(KeyVendorID, vendor.ID)
		c.Locals(KeyVendor, vendor)
		c.Locals(KeyActor, fmt.Sprintf("vendor:%d", vendor.ID))

		return c.Next()
	}
}

// VendorFromContext returns the authenticated vendor, or nil outside the
// vendor route group.
func VendorFromContext(c *fiber.Ctx) *models.Vendor {
	v, _ := c.Locals(KeyVendor).(*models.Vendor)
	return v
}

// ActorFromContext returns the request's actor string, empty for anonymous
// consumer traffic.
func ActorFromContext(c *fiber.Ctx) string {
	a, _ := c.Locals(KeyActor).(string)
	return a
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
