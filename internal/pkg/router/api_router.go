package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/carboncube/tierpay/internal/api/v1"
	"github.com/carboncube/tierpay/internal/pkg/constants"
	"github.com/carboncube/tierpay/internal/pkg/middleware"
	"github.com/carboncube/tierpay/internal/pkg/ratelimit"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIPrefix, ratelimit.New(h.deps.RateLimit, h.deps.LimiterStorage))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group(constants.APIV1Prefix)
	apiServer := apiv1.NewAPIServer(h.deps.Payments)
	apiv1.RegisterHandlersWithOptions(v1, apiServer, apiv1.ServerOptions{
		Auth: []fiber.Handler{
			middleware.SellerAPIKeyAuth(h.deps.Sellers),
			middleware.RequireSeller,
		},
	})
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
