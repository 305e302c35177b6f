package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carboncube/tierpay/app/controllers"
	"github.com/carboncube/tierpay/internal/pkg/constants"
)

type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, controllers.HandleHealth(h.deps.HealthChecks...))

	h.registerGatewayRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

// counterSink returns nil rather than a typed nil inside the interface.
func (h HttpRouter) counterSink() controllers.CounterSink {
	if h.deps.Counters == nil {
		return nil
	}
	return h.deps.Counters
}

func (h HttpRouter) counterReader() controllers.CounterReader {
	if h.deps.Counters == nil {
		return nil
	}
	return h.deps.Counters
}
