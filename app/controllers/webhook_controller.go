package controllers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/tiktel/ttelgo/app/models"
	"github.com/tiktel/ttelgo/internal/pkg/env"
	"github.com/tiktel/ttelgo/internal/pkg/webhook"
)

// WebhookController receives external notifications. Signature checks run
// over the raw body before anything is parsed or stored; once an event is
// durably recorded the endpoint acknowledges, and processing failures are
// retried internally instead of bouncing the source.
type WebhookController struct {
	webhooks  *webhook.Service
	processor *webhook.Processor
}

// NewWebhookController creates the webhook controller.
func NewWebhookController(webhooks *webhook.Service, processor *webhook.Processor) *WebhookController {
	return &WebhookController{webhooks: webhooks, processor: processor}
}

// Stripe handles POST /webhooks/stripe.
func (wc *WebhookController) Stripe(c *fiber.Ctx) error {
	payload := c.Body()
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := webhook.VerifyStripeSignature(payload, c.Get("Stripe-Signature"), secret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication_error", "message": "Invalid webhook signature"})
	}

	result, stored, err := wc.webhooks.Ingest(models.WebhookSourceStripe, event.ID, string(event.Type), event.Data.Raw)
	if err != nil {
		log.Errorf("stripe webhook %s: ingest failed: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	if result == webhook.Duplicate {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	// Process inline; a failure here is not the source's problem, the retry
	// sweep owns it from now on.
	if err := wc.processor.ProcessEvent(stored.ID); err != nil {
		log.Warnf("stripe webhook %s: deferred after processing error: %v", event.ID, err)
	}
	return c.JSON(fiber.Map{"received": true})
}

type esimgoWebhookBody struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

// Esimgo handles POST /webhooks/esimgo.
func (wc *WebhookController) Esimgo(c *fiber.Ctx) error {
	payload := c.Body()
	secret := env.GetEnv("ESIMGO_WEBHOOK_SECRET", "")

	if !webhook.VerifyEsimgoSignature(payload, c.Get("X-Esimgo-Signature"), secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication_error", "message": "Invalid webhook signature"})
	}

	var body esimgoWebhookBody
	if err := json.Unmarshal(payload, &body); err != nil || body.EventID == "" || body.EventType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "event_id and event_type are required"})
	}

	result, stored, err := wc.webhooks.Ingest(models.WebhookSourceEsimgo, body.EventID, body.EventType, payload)
	if err != nil {
		log.Errorf("esimgo webhook %s: ingest failed: %v", body.EventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	if result == webhook.Duplicate {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	if err := wc.processor.ProcessEvent(stored.ID); err != nil {
		log.Warnf("esimgo webhook %s: deferred after processing error: %v", body.EventID, err)
	}
	return c.JSON(fiber.Map{"received": true})
}
