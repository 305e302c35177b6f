package controllers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/payments"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters only for errors wrapping several sentinels.
var errorMappings = []errorMapping{
	{payments.ErrSellerNotFound, fiber.StatusNotFound, "seller_not_found"},
	{payments.ErrTierNotFound, fiber.StatusNotFound, "tier_not_found"},
	{payments.ErrPaymentNotFound, fiber.StatusNotFound, "payment_not_found"},
	{payments.ErrDepositNotFound, fiber.StatusNotFound, "deposit_not_found"},
	{payments.ErrEventNotFound, fiber.StatusNotFound, "event_not_found"},
	{payments.ErrPricingMismatch, fiber.StatusUnprocessableEntity, "pricing_mismatch"},
	{payments.ErrDowngradeNotAllowed, fiber.StatusUnprocessableEntity, "downgrade_not_allowed"},
	{payments.ErrAmountOutOfRange, fiber.StatusUnprocessableEntity, "amount_out_of_range"},
	{payments.ErrNoMatchingTier, fiber.StatusUnprocessableEntity, "no_matching_tier"},
	{payments.ErrReceiptMismatch, fiber.StatusUnprocessableEntity, "receipt_mismatch"},
	{payments.ErrAmountMismatch, fiber.StatusUnprocessableEntity, "amount_mismatch"},
	{payments.ErrPaymentAlreadyPending, fiber.StatusConflict, "payment_pending"},
	{payments.ErrAlreadyConfirmed, fiber.StatusConflict, "already_confirmed"},
	{payments.ErrReceiptAlreadyUsed, fiber.StatusConflict, "receipt_used"},
	{payments.ErrInvalidState, fiber.StatusConflict, "invalid_state"},
	{payments.ErrInvalidTransition, fiber.StatusConflict, "invalid_transition"},
	{payments.ErrNotCancellable, fiber.StatusConflict, "not_cancellable"},
	{payments.ErrCancelWindowElapsed, fiber.StatusConflict, "cancel_window_elapsed"},
	{payments.ErrNotCompleted, fiber.StatusConflict, "not_completed"},
	{payments.ErrRetryTooSoon, fiber.StatusTooManyRequests, "retry_too_soon"},
	{payments.ErrTooManyAttempts, fiber.StatusTooManyRequests, "too_many_attempts"},
	{payments.ErrGatewayRejected, fiber.StatusBadGateway, "gateway_rejected"},
}

// RespondError writes a payment service error as {error, message}.
func RespondError(c *fiber.Ctx, err error) error {
	var verr *payments.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "validation_failed",
			"field":   verr.Field,
			"message": verr.Error(),
		})
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return c.Status(m.status).JSON(fiber.Map{
				"error":   m.code,
				"message": err.Error(),
			})
		}
	}

	var aerr *payments.ActivationError
	if errors.As(err, &aerr) {
		log.Errorf("[Payments] activation of transaction %d failed at %s: %v", aerr.TransactionID, aerr.Step, aerr.Err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "activation_failed",
			"step":    aerr.Step,
			"message": aerr.Error(),
		})
	}

	log.Errorf("[Payments] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": "An error occurred while processing your payment",
	})
}

// BadRequest writes a 400 with the given message.
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "bad_request",
		"message": message,
	})
}

// ParamID parses a positive numeric route parameter.
func ParamID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// TransactionView is the public JSON shape of a payment transaction.
type TransactionView struct {
	ID                 uint            `json:"id"`
	TierID             uint            `json:"tier_id"`
	TierName           string          `json:"tier_name,omitempty"`
	TierPricingID      uint            `json:"tier_pricing_id"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	TransactionType    string          `json:"transaction_type"`
	CheckoutRequestID  string          `json:"checkout_request_id,omitempty"`
	MpesaReceiptNumber string          `json:"mpesa_receipt_number,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	ActivationError    string          `json:"activation_error,omitempty"`
	CreatedAt          *string         `json:"created_at"`
	UpdatedAt          *string         `json:"updated_at"`
	CompletedAt        *string         `json:"completed_at"`
}

// NewTransactionView builds the view; tierName may be empty.
func NewTransactionView(tx *models.PaymentTransaction, tierName string) TransactionView {
	return TransactionView{
		ID:                 tx.ID,
		TierID:             tx.TierID,
		TierName:           tierName,
		TierPricingID:      tx.TierPricingID,
		Amount:             tx.Amount,
		Status:             tx.Status,
		TransactionType:    tx.TransactionType,
		CheckoutRequestID:  tx.CheckoutID(),
		MpesaReceiptNumber: tx.Receipt(),
		ErrorMessage:       tx.ErrorMessage,
		ActivationError:    tx.ActivationError,
		CreatedAt:          formatTimePtr(&tx.CreatedAt),
		UpdatedAt:          formatTimePtr(&tx.UpdatedAt),
		CompletedAt:        formatTimePtr(tx.CompletedAt),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// GetClientIP returns the original client address, honouring proxy headers.
func GetClientIP(c *fiber.Ctx) string {
	if cf := strings.TrimSpace(c.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(c.Get("X-Real-IP")); real != "" {
		return real
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
