package middleware

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/carboncube/tierpay/internal/pkg/sellercontext"
)

// RequireSeller rejects requests without an authenticated seller.
func RequireSeller(c *fiber.Ctx) error {
	if !sellercontext.IsAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "seller authentication required",
		})
	}
	return c.Next()
}

// AdminBasicAuth protects operator endpoints. With no password configured
// every request is refused.
func AdminBasicAuth(user, password string) fiber.Handler {
	if password == "" {
		log.Warn("[Auth] ADMIN_PASSWORD not set, admin endpoints are disabled")
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "admin_disabled",
				"message": "admin access is not configured",
			})
		}
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{user: password},
		Realm: "tierpay admin",
	})
}

// GatewayAllowlist restricts gateway callbacks to the given IPs or CIDR
// ranges. An empty list allows every source.
func GatewayAllowlist(entries []string) fiber.Handler {
	var nets []*net.IPNet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			if strings.Contains(e, ":") {
				e += "/128"
			} else {
				e += "/32"
			}
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			log.Warnf("[Auth] Ignoring invalid gateway allowlist entry %q: %v", e, err)
			continue
		}
		nets = append(nets, n)
	}

	return func(c *fiber.Ctx) error {
		if len(nets) == 0 {
			return c.Next()
		}
		ip := net.ParseIP(c.IP())
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				return c.Next()
			}
		}
		log.Warnf("[Auth] Rejected gateway request from %s to %s", c.IP(), c.Path())
		return c.SendStatus(fiber.StatusForbidden)
	}
}
