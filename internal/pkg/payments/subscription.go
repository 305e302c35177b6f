package payments

import (
	"context"
	"fmt"

	"github.com/carboncube/tierpay/internal/pkg/entitlements"
)

// Subscription returns the plan the seller currently holds.
func (s *Service) Subscription(ctx context.Context, sellerID uint) (*entitlements.Plan, error) {
	st, err := s.repo.GetSellerTier(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("load seller tier: %w", err)
	}
	plan, ok := entitlements.Resolve(st, s.catalog, s.now())
	if !ok {
		return nil, ErrTierNotFound
	}
	return &plan, nil
}
