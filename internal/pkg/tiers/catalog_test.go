package tiers

import (
	"context"
	"errors"
	"testing"

	"github.com/carboncube/tierpay/app/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	rows []models.Tier
	err  error
}

func (s staticSource) ListTiersWithPricings(context.Context) ([]models.Tier, error) {
	return s.rows, s.err
}

func fixture() []models.Tier {
	return []models.Tier{
		{ID: 3, Name: "Gold", Rank: 3, Pricings: []models.TierPricing{
			{ID: 31, TierID: 3, Price: decimal.NewFromInt(1500), DurationMonths: 3},
			{ID: 32, TierID: 3, Price: decimal.NewFromInt(5000), DurationMonths: 12},
		}},
		{ID: 1, Name: "Free", Rank: 1},
		{ID: 2, Name: "Silver", Rank: 2, Pricings: []models.TierPricing{
			{ID: 21, TierID: 2, Price: decimal.NewFromInt(500), DurationMonths: 1},
			{ID: 22, TierID: 2, Price: decimal.NewFromInt(5000), DurationMonths: 24},
		}},
	}
}

func TestCatalogLoad(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Load(context.Background(), staticSource{rows: fixture()}))

	tiers := c.Tiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, "Free", tiers[0].Name)
	assert.Equal(t, "Gold", tiers[2].Name)

	assert.True(t, c.IsLowest(1))
	assert.False(t, c.IsLowest(3))

	rank, ok := c.Rank(2)
	assert.True(t, ok)
	assert.Equal(t, 2, rank)

	p, ok := c.Pricing(31)
	assert.True(t, ok)
	assert.Equal(t, uint(3), p.TierID)
}

func TestCatalogLoadError(t *testing.T) {
	c := NewCatalog()
	err := c.Load(context.Background(), staticSource{err: errors.New("db down")})
	require.Error(t, err)
	assert.False(t, c.IsLowest(1))
	_, ok := c.Tier(1)
	assert.False(t, ok)
}

func TestPriceToTierOption(t *testing.T) {
	c := NewCatalog()
	c.Replace(fixture())

	p, ok := c.PriceToTierOption(3, decimal.RequireFromString("1500.00"))
	require.True(t, ok)
	assert.Equal(t, uint(31), p.ID)
	assert.Equal(t, 3, p.DurationMonths)

	_, ok = c.PriceToTierOption(3, decimal.RequireFromString("1500.01"))
	assert.False(t, ok, "no tolerance")

	_, ok = c.PriceToTierOption(4, decimal.NewFromInt(9999))
	assert.False(t, ok)
}

func TestPriceToAnyTierOption(t *testing.T) {
	c := NewCatalog()
	c.Replace(fixture())

	p, ok := c.PriceToAnyTierOption(decimal.NewFromInt(500))
	require.True(t, ok)
	assert.Equal(t, uint(2), p.TierID)

	_, ok = c.PriceToAnyTierOption(decimal.NewFromInt(5000))
	assert.False(t, ok, "price shared by two tiers is ambiguous")

	_, ok = c.PriceToAnyTierOption(decimal.NewFromInt(123))
	assert.False(t, ok)
}
