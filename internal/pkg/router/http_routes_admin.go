package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carboncube/tierpay/app/controllers"
	"github.com/carboncube/tierpay/internal/pkg/constants"
	"github.com/carboncube/tierpay/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	ac := controllers.NewAdminPaymentsController(h.deps.Payments, h.deps.Sellers, h.deps.Replay, h.counterReader())

	adminGroup := app.Group(constants.AdminPrefix, middleware.AdminBasicAuth(h.deps.AdminUser, h.deps.AdminPassword))

	// Payments remediation
	adminGroup.Post("/payments/:id/activate", ac.HandleActivate)
	adminGroup.Get("/payments/unattributed", ac.HandleUnattributed)
	adminGroup.Get("/payments/activation_failures", ac.HandleActivationFailures)

	// Gateway events
	adminGroup.Get("/events/failed", ac.HandleFailedEvents)
	adminGroup.Post("/events/:id/replay", ac.HandleReplayEvent)

	// Seller API keys
	adminGroup.Post("/sellers/:id/api_key", ac.HandleIssueAPIKey)
	adminGroup.Delete("/sellers/:id/api_key", ac.HandleRevokeAPIKey)

	adminGroup.Get("/stats", ac.HandleStats)
}
