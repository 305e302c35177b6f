package apiv1

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/carboncube/tierpay/app/controllers"
	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/entitlements"
	"github.com/carboncube/tierpay/internal/pkg/payments"
	"github.com/carboncube/tierpay/internal/pkg/sellercontext"
	"github.com/carboncube/tierpay/internal/pkg/tiers"
)

// PaymentService is the seller-facing surface of the payment service.
type PaymentService interface {
	Initiate(ctx context.Context, sellerID uint, req payments.InitiateRequest) (*models.PaymentTransaction, error)
	Status(ctx context.Context, sellerID, paymentID uint) (*models.PaymentTransaction, error)
	History(ctx context.Context, sellerID uint) ([]models.PaymentTransaction, error)
	Instructions(ctx context.Context, sellerID, tierID, pricingID uint) (*payments.Instructions, error)
	Verify(ctx context.Context, sellerID uint, req payments.VerifyRequest) (*models.PaymentTransaction, error)
	Confirm(ctx context.Context, sellerID, paymentID uint, receipt string) (*models.PaymentTransaction, error)
	Cancel(ctx context.Context, sellerID, paymentID uint) (*models.PaymentTransaction, error)
	Subscription(ctx context.Context, sellerID uint) (*entitlements.Plan, error)
	Catalog() *tiers.Catalog
}

// APIServer implements the ServerInterface
type APIServer struct {
	payments PaymentService
}

// NewAPIServer creates a new API server instance
func NewAPIServer(svc PaymentService) *APIServer {
	return &APIServer{payments: svc}
}

var _ ServerInterface = (*APIServer)(nil)

func (s *APIServer) view(tx *models.PaymentTransaction) controllers.TransactionView {
	name := ""
	if tier, ok := s.payments.Catalog().Tier(tx.TierID); ok {
		name = tier.Name
	}
	return controllers.NewTransactionView(tx, name)
}

func (s *APIServer) paymentResponse(c *fiber.Ctx, tx *models.PaymentTransaction, message string) error {
	return c.JSON(PaymentResponse{Success: true, Message: message, Payment: s.view(tx)})
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// GetTiers lists the purchasable tiers.
func (s *APIServer) GetTiers(c *fiber.Ctx) error {
	rows := s.payments.Catalog().Tiers()
	out := make([]TierOption, 0, len(rows))
	for _, t := range rows {
		opt := TierOption{ID: t.ID, Name: t.Name, Rank: t.Rank, AdsLimit: t.AdsLimit, Pricings: []PricingOption{}}
		for _, p := range t.Pricings {
			opt.Pricings = append(opt.Pricings, PricingOption{ID: p.ID, Price: p.Price, DurationMonths: p.DurationMonths})
		}
		out = append(out, opt)
	}
	return c.JSON(fiber.Map{"tiers": out})
}

// GetSubscription returns the seller's current plan.
func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	plan, err := s.payments.Subscription(c.UserContext(), sellercontext.SellerID(c))
	if err != nil {
		return controllers.RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "subscription": plan})
}

// PostInitiatePayment sends an STK push for a tier pricing.
func (s *APIServer) PostInitiatePayment(c *fiber.Ctx) error {
	var req payments.InitiateRequest
	if err := c.BodyParser(&req); err != nil {
		return controllers.BadRequest(c, "invalid request body")
	}
	tx, err := s.payments.Initiate(c.UserContext(), sellercontext.SellerID(c), req)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayRejected) && tx != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success":    false,
				"error":      "gateway_rejected",
				"message":    err.Error(),
				"payment_id": tx.ID,
			})
		}
		return controllers.RespondError(c, err)
	}
	return c.JSON(InitiateResponse{
		Success:           true,
		Message:           "Payment request sent. Enter your M-Pesa PIN on your phone to complete.",
		PaymentID:         tx.ID,
		CheckoutRequestID: tx.CheckoutID(),
		MerchantRequestID: deref(tx.MerchantRequestID),
	})
}

// GetPaymentStatus returns a transaction, polling the gateway while pending.
func (s *APIServer) GetPaymentStatus(c *fiber.Ctx, id uint) error {
	tx, err := s.payments.Status(c.UserContext(), sellercontext.SellerID(c), id)
	if err != nil {
		return controllers.RespondError(c, err)
	}
	return s.paymentResponse(c, tx, "")
}

// GetPaymentHistory lists the seller's recent transactions.
func (s *APIServer) GetPaymentHistory(c *fiber.Ctx) error {
	rows, err := s.payments.History(c.UserContext(), sellercontext.SellerID(c))
	if err != nil {
		return controllers.RespondError(c, err)
	}
	views := make([]controllers.TransactionView, 0, len(rows))
	for i := range rows {
		views = append(views, s.view(&rows[i]))
	}
	return c.JSON(HistoryResponse{Success: true, Payments: views})
}

// GetPaymentInstructions explains how to pay a tier through the paybill.
func (s *APIServer) GetPaymentInstructions(c *fiber.Ctx, params InstructionsParams) error {
	ins, err := s.payments.Instructions(c.UserContext(), sellercontext.SellerID(c), params.TierID, params.PricingID)
	if err != nil {
		return controllers.RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "instructions": ins})
}

// PostVerifyPayment matches a self-reported receipt to a recorded deposit.
func (s *APIServer) PostVerifyPayment(c *fiber.Ctx) error {
	var req payments.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return controllers.BadRequest(c, "invalid request body")
	}
	tx, err := s.payments.Verify(c.UserContext(), sellercontext.SellerID(c), req)
	if err != nil {
		return controllers.RespondError(c, err)
	}
	return s.paymentResponse(c, tx, "Payment verified. Confirm it to activate your tier.")
}

// PostConfirmPayment completes a verified payment and activates the tier.
func (s *APIServer) PostConfirmPayment(c *fiber.Ctx) error {
	var req payments.ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return controllers.BadRequest(c, "invalid request body")
	}
	if req.PaymentID == 0 {
		return controllers.RespondError(c, &payments.ValidationError{Field: "payment_id", Reason: "required"})
	}
	tx, err := s.payments.Confirm(c.UserContext(), sellercontext.SellerID(c), req.PaymentID, req.Receipt)
	if err != nil {
		return controllers.RespondError(c, err)
	}
	if tx.ActivationError != "" {
		return s.paymentResponse(c, tx, "Payment confirmed. Tier activation is pending and will be retried shortly.")
	}
	return s.paymentResponse(c, tx, "Payment confirmed. Your tier is now active.")
}

// PostCancelPayment cancels a pending transaction.
func (s *APIServer) PostCancelPayment(c *fiber.Ctx, id uint) error {
	tx, err := s.payments.Cancel(c.UserContext(), sellercontext.SellerID(c), id)
	if err != nil {
		return controllers.RespondError(c, err)
	}
	return s.paymentResponse(c, tx, "Payment cancelled.")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
