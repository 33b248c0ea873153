package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tiktel/ttelgo/app/controllers"
	"github.com/tiktel/ttelgo/internal/pkg/database"
	"github.com/tiktel/ttelgo/internal/pkg/esimgo"
	"github.com/tiktel/ttelgo/internal/pkg/ledger"
	"github.com/tiktel/ttelgo/internal/pkg/order"
	"github.com/tiktel/ttelgo/internal/pkg/payment"
	"github.com/tiktel/ttelgo/internal/pkg/webhook"
)

// WebhookRouter mounts the processor callback endpoints. They live outside
// the /api group: no rate limiter (the sources retry aggressively) and no
// idempotency middleware, dedup happens on the event id at ingestion.
type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	db := database.GetDB()

	esimClient := esimgo.NewClient()
	ledgerSvc := ledger.NewServiceFromDB(db)
	orderSvc := order.NewServiceFromDB(db, esimClient.AsCatalogue(), ledgerSvc, esimClient.AsProvisioner())
	paymentSvc := payment.NewServiceFromDB(db)
	webhookSvc := webhook.NewServiceFromDB(db)
	processor := webhook.NewProcessor(webhook.NewRepository(db), orderSvc, ledgerSvc, paymentSvc)

	webhookCtrl := controllers.NewWebhookController(webhookSvc, processor)

	hooks := app.Group("/webhooks")
	hooks.Post("/stripe", webhookCtrl.Stripe)
	hooks.Post("/esimgo", webhookCtrl.Esimgo)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
