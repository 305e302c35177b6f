package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// HandleSTKCallback records and settles a push-payment callback. The returned
// error is for logging only; the gateway is always acknowledged.
func (s *Service) HandleSTKCallback(ctx context.Context, payload []byte) error {
	cb, perr := mpesa.ParseSTKCallback(payload)
	if perr != nil {
		s.recordUnparsable(ctx, models.GatewayEventSTKCallback, payload, perr)
		return perr
	}
	return s.ingest(ctx, models.GatewayEventSTKCallback, cb.CheckoutRequestID, payload, GatewayCallback{Callback: cb})
}

// HandleC2BConfirmation records and settles a paybill confirmation.
func (s *Service) HandleC2BConfirmation(ctx context.Context, payload []byte) error {
	dep, perr := mpesa.ParseC2BPayload(payload)
	if perr != nil {
		s.recordUnparsable(ctx, models.GatewayEventC2BConfirm, payload, perr)
		return perr
	}
	key := dep.TransID + ":" + dep.BusinessShortCode
	return s.ingest(ctx, models.GatewayEventC2BConfirm, key, payload, FromDeposit(dep))
}

func (s *Service) ingest(ctx context.Context, kind, key string, payload []byte, in IncomingSettlement) error {
	_, event, err := s.repo.CreateGatewayEventIfNotExists(ctx, &models.GatewayEvent{
		Kind:        kind,
		EventKey:    key,
		PayloadJSON: string(payload),
	})
	if err != nil {
		// The event log is diagnostic; settlement still runs without it.
		log.Errorf("[Payments] Could not record %s event %s: %v", kind, key, err)
		return s.Reconcile(ctx, in)
	}
	if event.Succeeded() {
		log.Infof("[Payments] %s event %s already processed", kind, key)
		return nil
	}

	serr := s.Reconcile(ctx, in)
	processingError := ""
	if serr != nil {
		processingError = serr.Error()
	}
	if err := s.repo.MarkGatewayEventProcessed(ctx, event.ID, processingError); err != nil {
		log.Errorf("[Payments] Could not mark %s event %d processed: %v", kind, event.ID, err)
	}
	if s.archiver != nil {
		s.archiver.ArchiveEvent(ctx, event.ID)
	}

	if errors.Is(serr, ErrUnknownCheckout) || errors.Is(serr, ErrReceiptAlreadyUsed) {
		return nil
	}
	return serr
}

func (s *Service) recordUnparsable(ctx context.Context, kind string, payload []byte, perr error) {
	log.Warnf("[Payments] Unparsable %s payload: %v", kind, perr)
	event := &models.GatewayEvent{
		Kind:        kind,
		EventKey:    "invalid:" + uuid.NewString(),
		PayloadJSON: string(payload),
	}
	if _, stored, err := s.repo.CreateGatewayEventIfNotExists(ctx, event); err != nil {
		log.Errorf("[Payments] Could not record unparsable %s payload: %v", kind, err)
	} else if err := s.repo.MarkGatewayEventProcessed(ctx, stored.ID, perr.Error()); err != nil {
		log.Errorf("[Payments] Could not mark %s event %d failed: %v", kind, stored.ID, err)
	}
}

// ValidatePaybill answers the paybill validation phase. It only reads: a
// structured reference must name an existing seller and tier, a bare
// reference must resolve to a seller account.
func (s *Service) ValidatePaybill(ctx context.Context, dep *mpesa.C2BPayload) mpesa.C2BResponse {
	ref := dep.BillRefNumber
	if tierID, sellerID, ok := mpesa.ParseTierReference(ref); ok {
		if _, known := s.catalog.Tier(tierID); !known {
			log.Warnf("[Payments] Rejecting paybill for unknown tier in reference %q", ref)
			return mpesa.C2BRejectedInvalidAccount()
		}
		if _, err := s.repo.GetSeller(ctx, sellerID); err != nil {
			if !isNotFound(err) {
				log.Errorf("[Payments] Seller lookup for reference %q failed: %v", ref, err)
			}
			return mpesa.C2BRejectedInvalidAccount()
		}
		return mpesa.C2BAccepted()
	}
	if mpesa.IsTierReference(ref) {
		log.Warnf("[Payments] Rejecting malformed tier reference %q", ref)
		return mpesa.C2BRejectedInvalidAccount()
	}

	if _, err := s.repo.FindSellerByAccount(ctx, ref); err != nil {
		if !isNotFound(err) {
			log.Errorf("[Payments] Account lookup for reference %q failed: %v", ref, err)
		}
		return mpesa.C2BRejectedInvalidAccount()
	}
	return mpesa.C2BAccepted()
}

// ReplayEvent settles a stored gateway event again. Operators use it after
// fixing the cause of a processing error.
func (s *Service) ReplayEvent(ctx context.Context, eventID uint) error {
	event, err := s.repo.GetGatewayEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Succeeded() {
		return nil
	}

	var in IncomingSettlement
	switch event.Kind {
	case models.GatewayEventSTKCallback:
		cb, err := mpesa.ParseSTKCallback([]byte(event.PayloadJSON))
		if err != nil {
			return err
		}
		in = GatewayCallback{Callback: cb}
	case models.GatewayEventC2BConfirm:
		dep, err := mpesa.ParseC2BPayload([]byte(event.PayloadJSON))
		if err != nil {
			return err
		}
		in = FromDeposit(dep)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}

	serr := s.Reconcile(ctx, in)
	processingError := ""
	if serr != nil {
		processingError = serr.Error()
	}
	if err := s.repo.MarkGatewayEventProcessed(ctx, event.ID, processingError); err != nil {
		return err
	}
	return serr
}
