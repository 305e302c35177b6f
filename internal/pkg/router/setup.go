package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carboncube/tierpay/app/controllers"
	"github.com/carboncube/tierpay/app/repository"
	"github.com/carboncube/tierpay/internal/pkg/payments"
	"github.com/carboncube/tierpay/internal/pkg/ratelimit"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries everything the routes need. Replay and Counters may be nil.
type Deps struct {
	Payments       *payments.Service
	Sellers        repository.SellerRepository
	Replay         controllers.ReplayFunc
	Counters       Counters
	HealthChecks   []controllers.HealthCheck
	LimiterStorage fiber.Storage
	RateLimit      ratelimit.Config
	AdminUser      string
	AdminPassword  string
	GatewayIPs     []string
}

// Counters is both written by webhooks and read by operators.
type Counters interface {
	controllers.CounterSink
	controllers.CounterReader
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
