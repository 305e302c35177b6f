package tiers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/carboncube/tierpay/app/models"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

// Source loads tiers together with their pricing options.
type Source interface {
	ListTiersWithPricings(ctx context.Context) ([]models.Tier, error)
}

// Catalog is an in-memory read model of tiers and pricing options.
// Lookups never fail; a missing entry is reported through the bool result.
type Catalog struct {
	mu       sync.RWMutex
	tiers    map[uint]models.Tier
	pricings map[uint]models.TierPricing
	lowest   uint
	ordered  []models.Tier
}

// NewCatalog returns an empty catalog. Call Load or Replace before use.
func NewCatalog() *Catalog {
	return &Catalog{
		tiers:    map[uint]models.Tier{},
		pricings: map[uint]models.TierPricing{},
	}
}

// Load replaces the catalog content with the rows returned by src.
func (c *Catalog) Load(ctx context.Context, src Source) error {
	rows, err := src.ListTiersWithPricings(ctx)
	if err != nil {
		return fmt.Errorf("load tiers: %w", err)
	}
	c.Replace(rows)
	log.Infof("[Tiers] Loaded %d tiers", len(rows))
	return nil
}

// Replace swaps the catalog content.
func (c *Catalog) Replace(rows []models.Tier) {
	tiers := make(map[uint]models.Tier, len(rows))
	pricings := map[uint]models.TierPricing{}
	ordered := make([]models.Tier, 0, len(rows))
	var lowest uint
	lowestRank := 0
	for i, t := range rows {
		tiers[t.ID] = t
		ordered = append(ordered, t)
		for _, p := range t.Pricings {
			pricings[p.ID] = p
		}
		if i == 0 || t.Rank < lowestRank {
			lowest = t.ID
			lowestRank = t.Rank
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = tiers
	c.pricings = pricings
	c.lowest = lowest
	c.ordered = ordered
}

// Tier returns the tier with the given id.
func (c *Catalog) Tier(id uint) (models.Tier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tiers[id]
	return t, ok
}

// Pricing returns the pricing option with the given id.
func (c *Catalog) Pricing(id uint) (models.TierPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pricings[id]
	return p, ok
}

// Tiers returns all tiers ordered by rank.
func (c *Catalog) Tiers() []models.Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Tier, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Rank returns the rank of a tier.
func (c *Catalog) Rank(tierID uint) (int, bool) {
	t, ok := c.Tier(tierID)
	if !ok {
		return 0, false
	}
	return t.Rank, true
}

// IsLowest reports whether the tier is the lowest ranked (free) tier.
func (c *Catalog) IsLowest(tierID uint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tiers) > 0 && c.lowest == tierID
}

// PriceToTierOption finds the pricing option of tierID whose price equals
// amount exactly.
func (c *Catalog) PriceToTierOption(tierID uint, amount decimal.Decimal) (models.TierPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tiers[tierID]
	if !ok {
		return models.TierPricing{}, false
	}
	for _, p := range t.Pricings {
		if p.Price.Equal(amount) {
			return p, true
		}
	}
	return models.TierPricing{}, false
}

// PriceToAnyTierOption finds the pricing option across all tiers whose price
// equals amount. A price carried by more than one tier is ambiguous and
// reports no match.
func (c *Catalog) PriceToAnyTierOption(amount decimal.Decimal) (models.TierPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found models.TierPricing
	matches := 0
	for _, p := range c.pricings {
		if p.Price.Equal(amount) {
			found = p
			matches++
		}
	}
	if matches != 1 {
		if matches > 1 {
			log.Warnf("[Tiers] Price %s matches %d pricing options, treating as unattributed", amount.StringFixed(2), matches)
		}
		return models.TierPricing{}, false
	}
	return found, true
}

// Lowest returns the lowest ranked tier.
func (c *Catalog) Lowest() (models.Tier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tiers[c.lowest]
	return t, ok && len(c.tiers) > 0
}
