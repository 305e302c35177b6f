package payments

import (
	"context"

	"github.com/carboncube/tierpay/app/models"
)

const adminListLimit = 100

// ListUnattributed returns deposits that could not be bound to a seller tier.
func (s *Service) ListUnattributed(ctx context.Context) ([]models.Payment, error) {
	return s.repo.ListUnattributedPayments(ctx, adminListLimit)
}

// ListFailedEvents returns gateway events whose processing failed.
func (s *Service) ListFailedEvents(ctx context.Context) ([]models.GatewayEvent, error) {
	return s.repo.ListFailedGatewayEvents(ctx, adminListLimit)
}

// ListActivationFailures returns paid transactions that are not yet entitled.
func (s *Service) ListActivationFailures(ctx context.Context) ([]models.PaymentTransaction, error) {
	return s.repo.ListActivationFailures(ctx, adminListLimit)
}

// GatewayEvent returns a stored gateway event.
func (s *Service) GatewayEvent(ctx context.Context, eventID uint) (*models.GatewayEvent, error) {
	event, err := s.repo.GetGatewayEvent(ctx, eventID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}
