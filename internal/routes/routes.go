// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"log/slog"

	"tradepost/internal/handlers"
	"tradepost/internal/middleware"
	"tradepost/internal/models"
	"tradepost/internal/services/escrow"
	"tradepost/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Escrow        escrow.Service
	DB            handlers.Pinger
	Cache         handlers.HealthChecker
	JWTSecret     string
	WebhookSecret string
	Logger        *slog.Logger
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transactionHandler := handlers.NewTransactionHandler(deps.Escrow, validation.New())
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Cache)
	webhookHandler := handlers.NewStripeWebhookHandler(deps.Escrow, deps.WebhookSecret, nil, logger)
	auth := middleware.NewAuthMiddleware(deps.JWTSecret, logger)

	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Provider callbacks are authenticated by signature, not JWT.
	app.Post("/webhooks/stripe", webhookHandler.Handle)

	api := app.Group("/api", auth.Handler)

	transactions := api.Group("/transactions")
	read := middleware.HasPermission(models.PermissionTransactionRead)
	write := middleware.HasPermission(models.PermissionTransactionWrite)
	transactions.Post("/", write, transactionHandler.CreateTransaction)
	transactions.Get("/", read, transactionHandler.ListTransactions)
	transactions.Get("/:id", read, transactionHandler.GetTransaction)
	transactions.Post("/:id/authorize", write, transactionHandler.ConfirmAuthorization)
	transactions.Put("/:id/pickup", write, transactionHandler.SetPickupDetails)
	transactions.Post("/:id/handoff", write, transactionHandler.ConfirmHandoff)
	transactions.Post("/:id/complete", write, transactionHandler.ConfirmPickup)
	transactions.Post("/:id/cancel", write, transactionHandler.CancelTransaction)

	admin := api.Group("/admin", middleware.AdminAuthMiddleware)
	admin.Post("/transactions/:id/dispute", middleware.HasPermission(models.PermissionDisputeWrite), transactionHandler.EscalateDispute)
	admin.Post("/transactions/:id/release-hold", transactionHandler.ReleaseHold)
}
