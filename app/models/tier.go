package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is a seller subscription level. Rank orders tiers for upgrade checks;
// the lowest rank is the free tier.
type Tier struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Rank      int           `gorm:"not null;index" json:"rank"`
	AdsLimit  int           `gorm:"not null;default:0" json:"ads_limit"`
	Pricings  []TierPricing `gorm:"foreignKey:TierID" json:"pricings,omitempty"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// TierPricing is one purchasable (price, duration) option of a tier.
// A price is unique within its tier.
type TierPricing struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	TierID         uint            `gorm:"not null;index:ux_tier_pricings_tier_price,unique,priority:1" json:"tier_id"`
	Price          decimal.Decimal `gorm:"type:decimal(10,2);not null;index:ux_tier_pricings_tier_price,unique,priority:2" json:"price"`
	DurationMonths int             `gorm:"not null" json:"duration_months"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
