package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

// HandleHealth reports every dependency and answers 503 if any is down.
func HandleHealth(checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()

		status := fiber.StatusOK
		results := fiber.Map{}
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				log.Warnf("[Health] %s check failed: %v", hc.Name, err)
				results[hc.Name] = "down"
				status = fiber.StatusServiceUnavailable
				continue
			}
			results[hc.Name] = "ok"
		}
		state := "ok"
		if status != fiber.StatusOK {
			state = "degraded"
		}
		return c.Status(status).JSON(fiber.Map{"status": state, "checks": results})
	}
}
