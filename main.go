package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tiktel/ttelgo/internal/pkg/cache"
	"github.com/tiktel/ttelgo/internal/pkg/database"
	"github.com/tiktel/ttelgo/internal/pkg/env"
	"github.com/tiktel/ttelgo/internal/pkg/esimgo"
	"github.com/tiktel/ttelgo/internal/pkg/idempotency"
	"github.com/tiktel/ttelgo/internal/pkg/jobs"
	"github.com/tiktel/ttelgo/internal/pkg/ledger"
	"github.com/tiktel/ttelgo/internal/pkg/order"
	"github.com/tiktel/ttelgo/internal/pkg/payment"
	"github.com/tiktel/ttelgo/internal/pkg/router"
	"github.com/tiktel/ttelgo/internal/pkg/webhook"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	// Stop the sweeps before the listener goes away.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *jobs.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	payment.SetupStripe()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook payloads stay small
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	// Background sweeps share the services the routers use.
	db := database.GetDB()
	esimClient := esimgo.NewClient()
	ledgerSvc := ledger.NewServiceFromDB(db)
	orderSvc := order.NewServiceFromDB(db, esimClient.AsCatalogue(), ledgerSvc, esimClient.AsProvisioner())
	paymentSvc := payment.NewServiceFromDB(db)
	processor := webhook.NewProcessor(webhook.NewRepository(db), orderSvc, ledgerSvc, paymentSvc)
	manager := jobs.NewManager(idempotency.NewServiceFromDB(db), processor, orderSvc, db)

	return app, manager
}
