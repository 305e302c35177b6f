package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	metrics "github.com/carboncube/tierpay/internal/pkg/metrics/counter"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
)

// GatewayIngest is the part of the payment service fed by gateway webhooks.
type GatewayIngest interface {
	HandleSTKCallback(ctx context.Context, payload []byte) error
	HandleC2BConfirmation(ctx context.Context, payload []byte) error
	ValidatePaybill(ctx context.Context, dep *mpesa.C2BPayload) mpesa.C2BResponse
}

// CounterSink counts gateway traffic.
type CounterSink interface {
	Incr(ctx context.Context, name string) error
}

// MpesaController handles the gateway's callback and paybill webhooks.
// Every webhook is acknowledged; failures are recorded on the stored event.
type MpesaController struct {
	payments GatewayIngest
	counters CounterSink
}

// NewMpesaController creates the webhook controller. counters may be nil.
func NewMpesaController(payments GatewayIngest, counters CounterSink) *MpesaController {
	return &MpesaController{payments: payments, counters: counters}
}

func (mc *MpesaController) count(c *fiber.Ctx, name string) {
	if mc.counters == nil {
		return
	}
	if err := mc.counters.Incr(c.UserContext(), name); err != nil {
		log.Debugf("[Mpesa] Counter %s not updated: %v", name, err)
	}
}

// HandleSTKCallback settles a push-payment result.
func (mc *MpesaController) HandleSTKCallback(c *fiber.Ctx) error {
	mc.count(c, metrics.StkCallbacks)
	if err := mc.payments.HandleSTKCallback(c.UserContext(), c.Body()); err != nil {
		log.Errorf("[Mpesa] STK callback from %s not settled: %v", GetClientIP(c), err)
	}
	return c.JSON(mpesa.Ack())
}

// HandleValidate accepts or rejects a paybill deposit before it is final.
func (mc *MpesaController) HandleValidate(c *fiber.Ctx) error {
	dep, err := mpesa.ParseC2BPayload(c.Body())
	if err != nil {
		log.Warnf("[Mpesa] Unparsable validation request from %s: %v", GetClientIP(c), err)
		mc.count(c, metrics.PaybillRejected)
		return c.JSON(mpesa.C2BRejectedInvalidAccount())
	}

	resp := mc.payments.ValidatePaybill(c.UserContext(), dep)
	if resp.ResultCode == mpesa.C2BAccepted().ResultCode {
		mc.count(c, metrics.PaybillValidated)
	} else {
		log.Infof("[Mpesa] Rejected paybill %s with reference %q", dep.TransID, dep.BillRefNumber)
		mc.count(c, metrics.PaybillRejected)
	}
	return c.JSON(resp)
}

// HandleConfirm records a final paybill deposit.
func (mc *MpesaController) HandleConfirm(c *fiber.Ctx) error {
	mc.count(c, metrics.PaybillConfirmed)
	if err := mc.payments.HandleC2BConfirmation(c.UserContext(), c.Body()); err != nil {
		log.Errorf("[Mpesa] Paybill confirmation from %s not settled: %v", GetClientIP(c), err)
	}
	return c.JSON(mpesa.C2BConfirmed())
}
