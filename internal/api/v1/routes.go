package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// ServerInterface lists the seller API operations served under /api/v1.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /tiers)
	GetTiers(c *fiber.Ctx) error
	// (GET /subscription)
	GetSubscription(c *fiber.Ctx) error
	// (POST /payments/initiate)
	PostInitiatePayment(c *fiber.Ctx) error
	// (GET /payments/history)
	GetPaymentHistory(c *fiber.Ctx) error
	// (GET /payments/instructions)
	GetPaymentInstructions(c *fiber.Ctx, params InstructionsParams) error
	// (POST /payments/verify)
	PostVerifyPayment(c *fiber.Ctx) error
	// (POST /payments/confirm)
	PostConfirmPayment(c *fiber.Ctx) error
	// (GET /payments/{id}/status)
	GetPaymentStatus(c *fiber.Ctx, id uint) error
	// (POST /payments/{id}/cancel)
	PostCancelPayment(c *fiber.Ctx, id uint) error
}

// ServerOptions configures route registration. Auth runs before every
// operation except the ping.
type ServerOptions struct {
	Auth []fiber.Handler
}

// ServerInterfaceWrapper converts route parameters before calling the server.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func badParam(c *fiber.Ctx, name string) error {
	return c.Status(fiber.StatusBadRequest).JSON(Error{
		Error:   "bad_request",
		Message: "invalid " + name + " parameter",
	})
}

func (w *ServerInterfaceWrapper) GetPing(c *fiber.Ctx) error {
	return w.Handler.GetPing(c)
}

func (w *ServerInterfaceWrapper) GetTiers(c *fiber.Ctx) error {
	return w.Handler.GetTiers(c)
}

func (w *ServerInterfaceWrapper) GetSubscription(c *fiber.Ctx) error {
	return w.Handler.GetSubscription(c)
}

func (w *ServerInterfaceWrapper) PostInitiatePayment(c *fiber.Ctx) error {
	return w.Handler.PostInitiatePayment(c)
}

func (w *ServerInterfaceWrapper) GetPaymentHistory(c *fiber.Ctx) error {
	return w.Handler.GetPaymentHistory(c)
}

func (w *ServerInterfaceWrapper) GetPaymentInstructions(c *fiber.Ctx) error {
	var params InstructionsParams
	if err := c.QueryParser(&params); err != nil {
		return badParam(c, "tier_id or pricing_id")
	}
	return w.Handler.GetPaymentInstructions(c, params)
}

func (w *ServerInterfaceWrapper) PostVerifyPayment(c *fiber.Ctx) error {
	return w.Handler.PostVerifyPayment(c)
}

func (w *ServerInterfaceWrapper) PostConfirmPayment(c *fiber.Ctx) error {
	return w.Handler.PostConfirmPayment(c)
}

func (w *ServerInterfaceWrapper) GetPaymentStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badParam(c, "id")
	}
	return w.Handler.GetPaymentStatus(c, uint(id))
}

func (w *ServerInterfaceWrapper) PostCancelPayment(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badParam(c, "id")
	}
	return w.Handler.PostCancelPayment(c, uint(id))
}

// RegisterHandlers mounts the seller API without authentication.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, ServerOptions{})
}

// RegisterHandlersWithOptions mounts the seller API on router.
func RegisterHandlersWithOptions(router fiber.Router, si ServerInterface, options ServerOptions) {
	w := &ServerInterfaceWrapper{Handler: si}
	with := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, options.Auth...), h)
	}

	router.Get("/ping", w.GetPing)
	router.Get("/tiers", with(w.GetTiers)...)
	router.Get("/subscription", with(w.GetSubscription)...)
	router.Post("/payments/initiate", with(w.PostInitiatePayment)...)
	router.Get("/payments/history", with(w.GetPaymentHistory)...)
	router.Get("/payments/instructions", with(w.GetPaymentInstructions)...)
	router.Post("/payments/verify", with(w.PostVerifyPayment)...)
	router.Post("/payments/confirm", with(w.PostConfirmPayment)...)
	router.Get("/payments/:id/status", with(w.GetPaymentStatus)...)
	router.Post("/payments/:id/cancel", with(w.PostCancelPayment)...)
}
