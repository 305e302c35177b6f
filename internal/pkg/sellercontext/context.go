package sellercontext

import "github.com/gofiber/fiber/v2"

// Locals keys shared by middlewares and controllers
const (
	KeySellerContext = "SELLER_CONTEXT"
	KeySellerID      = "seller_id"
)

// SellerContext is the authenticated seller of an API request
type SellerContext struct {
	SellerID      uint   `json:"seller_id"`
	Name          string `json:"name"`
	KeyPrefix     string `json:"key_prefix"`
	Authenticated bool   `json:"authenticated"`
}

// Set stores the seller context on the request.
func Set(c *fiber.Ctx, sc SellerContext) {
	c.Locals(KeySellerContext, sc)
	c.Locals(KeySellerID, sc.SellerID)
}

// Get returns the seller context, or an anonymous one if none is set
func Get(c *fiber.Ctx) SellerContext {
	if sc, ok := c.Locals(KeySellerContext).(SellerContext); ok {
		return sc
	}
	return SellerContext{}
}

// SellerID returns the authenticated seller's ID, or 0
func SellerID(c *fiber.Ctx) uint {
	return Get(c).SellerID
}

// IsAuthenticated reports whether a seller was resolved for the request
func IsAuthenticated(c *fiber.Ctx) bool {
	return Get(c).Authenticated
}
