package entitlements

import (
	"time"

	"github.com/carboncube/tierpay/app/models"
)

// Tiers is the part of the tier catalog the resolver reads.
type Tiers interface {
	Tier(id uint) (models.Tier, bool)
	Lowest() (models.Tier, bool)
}

// Plan is what a seller is entitled to at a point in time.
type Plan struct {
	TierID    uint       `json:"tier_id"`
	TierName  string     `json:"tier_name"`
	Rank      int        `json:"rank"`
	AdsLimit  int        `json:"ads_limit"`
	ExpiresAt *time.Time `json:"expires_at"`
	Paid      bool       `json:"paid"`
}

// Resolve returns the plan a seller holds at now. A missing or expired
// subscription, or one pointing at a tier that no longer exists, falls back
// to the lowest tier. The bool is false only when the catalog is empty.
func Resolve(st *models.SellerTier, tiers Tiers, now time.Time) (Plan, bool) {
	if st.IsActive(now) {
		if t, ok := tiers.Tier(st.TierID); ok {
			return Plan{
				TierID:    t.ID,
				TierName:  t.Name,
				Rank:      t.Rank,
				AdsLimit:  t.AdsLimit,
				ExpiresAt: st.ExpiresAt,
				Paid:      st.PaymentTransactionID != nil,
			}, true
		}
	}
	t, ok := tiers.Lowest()
	if !ok {
		return Plan{}, false
	}
	return Plan{TierID: t.ID, TierName: t.Name, Rank: t.Rank, AdsLimit: t.AdsLimit}, true
}

// CanPostAd reports whether another ad fits under the plan's limit.
func (p Plan) CanPostAd(activeAds int) bool {
	return activeAds < p.AdsLimit
}

// DaysLeft returns the whole days until expiry, or -1 for a plan that does
// not expire.
func (p Plan) DaysLeft(now time.Time) int {
	if p.ExpiresAt == nil {
		return -1
	}
	d := p.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
