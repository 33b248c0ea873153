package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/tiktel/ttelgo/app/controllers"
	"github.com/tiktel/ttelgo/internal/pkg/database"
	"github.com/tiktel/ttelgo/internal/pkg/esimgo"
	"github.com/tiktel/ttelgo/internal/pkg/idempotency"
	"github.com/tiktel/ttelgo/internal/pkg/ledger"
	"github.com/tiktel/ttelgo/internal/pkg/middleware"
	"github.com/tiktel/ttelgo/internal/pkg/order"
	"github.com/tiktel/ttelgo/internal/pkg/payment"
	"github.com/tiktel/ttelgo/internal/pkg/webhook"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	db := database.GetDB()

	esimClient := esimgo.NewClient()
	ledgerSvc := ledger.NewServiceFromDB(db)
	orderSvc := order.NewServiceFromDB(db, esimClient.AsCatalogue(), ledgerSvc, esimClient.AsProvisioner())
	paymentSvc := payment.NewServiceFromDB(db)
	idempotencySvc := idempotency.NewServiceFromDB(db)
	webhookSvc := webhook.NewServiceFromDB(db)

	planCtrl := controllers.NewPlanController(esimClient)
	checkoutCtrl := controllers.NewCheckoutController(orderSvc, paymentSvc)
	orderCtrl := controllers.NewOrderController(orderSvc)
	vendorCtrl := controllers.NewVendorController(orderSvc, ledgerSvc, paymentSvc)
	adminCtrl := controllers.NewAdminController(orderSvc, ledgerSvc, webhookSvc)

	idem := middleware.IdempotencyMiddleware(idempotencySvc)

	api := app.Group("/api", limiter.New())
	v1 := api.Group("/v1")

	// Public storefront
	v1.Get("/plans", planCtrl.ListPlans)
	v1.Post("/checkout", idem, checkoutCtrl.Checkout)
	v1.Get("/orders/:reference", orderCtrl.GetOrder)
	v1.Post("/orders/:reference/cancel", idem, orderCtrl.CancelOrder)

	// Vendor API, key-authenticated
	vendorAuth := middleware.VendorAuthMiddleware(ledgerSvc)
	vendor := v1.Group("/vendor", vendorAuth)
	vendor.Post("/orders", idem, vendorCtrl.CreateOrder)
	vendor.Get("/orders", vendorCtrl.ListOrders)
	vendor.Get("/balance", vendorCtrl.GetBalance)
	vendor.Get("/ledger", vendorCtrl.ListLedger)
	vendor.Post("/topup", idem, vendorCtrl.TopUp)

	// Operator API
	admin := v1.Group("/admin", middleware.AdminAuthMiddleware())
	admin.Get("/webhook-events/exhausted", adminCtrl.ListUnprocessedEvents)
	admin.Post("/orders/:reference/retry-provisioning", adminCtrl.RetryProvisioning)
	admin.Get("/vendors", adminCtrl.ListVendors)
	admin.Post("/vendors", adminCtrl.CreateVendor)
	admin.Post("/vendors/:id/approve", adminCtrl.ApproveVendor)
	admin.Post("/vendors/:id/suspend", adminCtrl.SuspendVendor)
	admin.Post("/vendors/:id/adjustments", adminCtrl.AdjustBalance)
	admin.Get("/vendors/:id/ledger", adminCtrl.ListVendorLedger)
	admin.Post("/ledger-entries/:id/reverse", adminCtrl.ReverseEntry)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
