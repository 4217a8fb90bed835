package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/matchbot/internal/api/http/handlers"
	"github.com/spec-kit/matchbot/internal/auth"
	"github.com/spec-kit/matchbot/internal/service"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health          *handlers.HealthHandler
	Messages        *handlers.MessagesHandler
	Payments        *handlers.PaymentsHandler
	Admin           *handlers.AdminHandler
	AdminMiddleware *auth.AdminMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/webhooks/whatsapp", cfg.Messages.Webhook)
	app.Post("/api/messages", cfg.Messages.Inbound)

	app.Post(service.ResultPath, cfg.Payments.Result)

	admin := app.Group("/admin", cfg.AdminMiddleware.Handle)
	admin.Get("/payments/pending", cfg.Admin.PendingPayments)
	admin.Get("/applications", cfg.Admin.Applications)
	admin.Post("/reconcile", cfg.Admin.Reconcile)
	admin.Get("/metrics", cfg.Admin.Metrics)
}
