package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carboncube/tierpay/app/controllers"
	"github.com/carboncube/tierpay/internal/pkg/constants"
	"github.com/carboncube/tierpay/internal/pkg/middleware"
)

// Gateway webhooks carry no credentials; the source address allowlist is
// their only guard.
func (h HttpRouter) registerGatewayRoutes(app *fiber.App) {
	mc := controllers.NewMpesaController(h.deps.Payments, h.counterSink())
	allow := middleware.GatewayAllowlist(h.deps.GatewayIPs)

	app.Post(constants.STKCallbackRoute, allow, mc.HandleSTKCallback)
	app.Post(constants.C2BValidateRoute, allow, mc.HandleValidate)
	app.Post(constants.C2BConfirmRoute, allow, mc.HandleConfirm)
}
