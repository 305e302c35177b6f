package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/app/repository"
	"github.com/carboncube/tierpay/internal/pkg/jobqueue"
)

// ============================================================================
// ADMIN PAYMENTS CONTROLLER - operator remediation endpoints
// ============================================================================

// PaymentsAdmin is the operator surface of the payment service.
type PaymentsAdmin interface {
	RetryActivation(ctx context.Context, paymentID uint) (*models.PaymentTransaction, error)
	ListUnattributed(ctx context.Context) ([]models.Payment, error)
	ListFailedEvents(ctx context.Context) ([]models.GatewayEvent, error)
	ListActivationFailures(ctx context.Context) ([]models.PaymentTransaction, error)
	GatewayEvent(ctx context.Context, eventID uint) (*models.GatewayEvent, error)
}

// ReplayFunc schedules a stored gateway event for settlement.
type ReplayFunc func(ctx context.Context, eventID uint) (*jobqueue.Job, error)

// CounterReader exposes the operational counters.
type CounterReader interface {
	Snapshot(ctx context.Context, days int) (map[string]int64, error)
}

// AdminPaymentsController handles operator requests.
type AdminPaymentsController struct {
	payments PaymentsAdmin
	sellers  repository.SellerRepository
	replay   ReplayFunc
	counters CounterReader
}

// NewAdminPaymentsController creates the admin controller. replay and
// counters may be nil; their endpoints then answer 503.
func NewAdminPaymentsController(payments PaymentsAdmin, sellers repository.SellerRepository, replay ReplayFunc, counters CounterReader) *AdminPaymentsController {
	return &AdminPaymentsController{
		payments: payments,
		sellers:  sellers,
		replay:   replay,
		counters: counters,
	}
}

func unavailable(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":   "unavailable",
		"message": what + " is not configured",
	})
}

// HandleActivate re-runs tier activation of a completed payment.
func (ac *AdminPaymentsController) HandleActivate(c *fiber.Ctx) error {
	id, ok := ParamID(c, "id")
	if !ok {
		return BadRequest(c, "payment id must be a positive number")
	}
	tx, err := ac.payments.RetryActivation(c.UserContext(), id)
	if err != nil {
		return RespondError(c, err)
	}
	log.Infof("[Payments] Admin re-activated transaction %d for seller %d", tx.ID, tx.SellerID)
	return c.JSON(fiber.Map{
		"success": true,
		"payment": NewTransactionView(tx, ""),
	})
}

// HandleUnattributed lists deposits that are not bound to a tier.
func (ac *AdminPaymentsController) HandleUnattributed(c *fiber.Ctx) error {
	rows, err := ac.payments.ListUnattributed(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"count": len(rows), "payments": rows})
}

// HandleActivationFailures lists completed payments that are not entitled.
func (ac *AdminPaymentsController) HandleActivationFailures(c *fiber.Ctx) error {
	rows, err := ac.payments.ListActivationFailures(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}
	views := make([]TransactionView, 0, len(rows))
	for i := range rows {
		views = append(views, NewTransactionView(&rows[i], ""))
	}
	return c.JSON(fiber.Map{"count": len(views), "payments": views})
}

// HandleFailedEvents lists gateway events whose processing failed.
func (ac *AdminPaymentsController) HandleFailedEvents(c *fiber.Ctx) error {
	rows, err := ac.payments.ListFailedEvents(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"count": len(rows), "events": rows})
}

// HandleReplayEvent queues a failed gateway event for another settlement run.
func (ac *AdminPaymentsController) HandleReplayEvent(c *fiber.Ctx) error {
	if ac.replay == nil {
		return unavailable(c, "job queue")
	}
	id, ok := ParamID(c, "id")
	if !ok {
		return BadRequest(c, "event id must be a positive number")
	}
	event, err := ac.payments.GatewayEvent(c.UserContext(), id)
	if err != nil {
		return RespondError(c, err)
	}
	if event.Succeeded() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "already_processed",
			"message": "event was processed successfully",
		})
	}

	job, err := ac.replay(c.UserContext(), event.ID)
	if err != nil {
		return RespondError(c, err)
	}
	log.Infof("[Payments] Admin queued replay of %s event %d as job %s", event.Kind, event.ID, job.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":  true,
		"event_id": event.ID,
		"job_id":   job.ID,
	})
}

// HandleStats returns the daily operational counters summed over ?days=.
func (ac *AdminPaymentsController) HandleStats(c *fiber.Ctx) error {
	if ac.counters == nil {
		return unavailable(c, "counters")
	}
	days, err := strconv.Atoi(c.Query("days", "1"))
	if err != nil || days < 1 || days > 7 {
		return BadRequest(c, "days must be between 1 and 7")
	}
	snap, err := ac.counters.Snapshot(c.UserContext(), days)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"days": days, "counters": snap})
}

func (ac *AdminPaymentsController) seller(c *fiber.Ctx) (*models.Seller, error) {
	id, ok := ParamID(c, "id")
	if !ok {
		return nil, BadRequest(c, "seller id must be a positive number")
	}
	seller, err := ac.sellers.GetByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   "seller_not_found",
				"message": "seller not found",
			})
		}
		return nil, RespondError(c, err)
	}
	return seller, nil
}

// HandleIssueAPIKey rotates a seller's API key and returns the raw secret once.
func (ac *AdminPaymentsController) HandleIssueAPIKey(c *fiber.Ctx) error {
	seller, err := ac.seller(c)
	if seller == nil {
		return err
	}
	raw, err := seller.IssueAPIKey()
	if err != nil {
		return RespondError(c, err)
	}
	if err := ac.sellers.Update(c.UserContext(), seller); err != nil {
		return RespondError(c, err)
	}
	log.Infof("[Auth] Issued API key %s for seller %d", seller.APIKeyPrefix, seller.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"seller_id":  seller.ID,
		"api_key":    raw,
		"key_prefix": seller.APIKeyPrefix,
	})
}

// HandleRevokeAPIKey disables a seller's API key.
func (ac *AdminPaymentsController) HandleRevokeAPIKey(c *fiber.Ctx) error {
	seller, err := ac.seller(c)
	if seller == nil {
		return err
	}
	seller.RevokeAPIKey()
	if err := ac.sellers.Update(c.UserContext(), seller); err != nil {
		return RespondError(c, err)
	}
	log.Infof("[Auth] Revoked API key of seller %d", seller.ID)
	return c.SendStatus(fiber.StatusNoContent)
}
