package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext picks up W3C trace headers so work queued by the request
// joins the caller's trace.
func TraceContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		carrier := propagation.MapCarrier{}
		for _, key := range otel.GetTextMapPropagator().Fields() {
			if v := c.Get(key); v != "" {
				carrier[key] = v
			}
		}
		if len(carrier) > 0 {
			c.SetUserContext(otel.GetTextMapPropagator().Extract(c.UserContext(), carrier))
		}
		return c.Next()
	}
}
