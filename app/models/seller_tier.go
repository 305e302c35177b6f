package models

import "time"

// SellerTier is the current subscription of a seller. There is exactly one
// row per seller; activations overwrite it.
type SellerTier struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	SellerID             uint       `gorm:"not null;uniqueIndex" json:"seller_id"`
	TierID               uint       `gorm:"not null;index" json:"tier_id"`
	DurationMonths       int        `gorm:"not null;default:0" json:"duration_months"`
	ExpiresAt            *time.Time `gorm:"type:timestamp;default:null" json:"expires_at"`
	PaymentTransactionID *uint      `gorm:"index" json:"payment_transaction_id"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the subscription is still running at now.
// A nil expiry never runs out.
func (st *SellerTier) IsActive(now time.Time) bool {
	if st == nil {
		return false
	}
	return st.ExpiresAt == nil || st.ExpiresAt.After(now)
}
