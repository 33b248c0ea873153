package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/tiktel/ttelgo/internal/pkg/esimgo"
)

// PlanController serves the bundle catalogue from the provisioning vendor,
// cached in Redis.
type PlanController struct {
	client *esimgo.Client
}

// NewPlanController creates the plan controller.
func NewPlanController(client *esimgo.Client) *PlanController {
	return &PlanController{client: client}
}

// ListPlans returns the purchasable bundle catalogue.
func (pc *PlanController) ListPlans(c *fiber.Ctx) error {
	bundles, err := pc.client.ListBundles()
	if err != nil {
		log.Errorf("plans: catalogue fetch failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_error", "message": "Catalogue temporarily unavailable"})
	}

	country := c.Query("country")
	if country == "" {
		return c.JSON(fiber.Map{"plans": bundles})
	}

	filtered := make([]esimgo.Bundle, 0, len(bundles))
	for _, b := range bundles {
		if b.CountryISO == country {
			filtered = append(filtered, b)
		}
	}
	return c.JSON(fiber.Map{"plans": filtered})
}
