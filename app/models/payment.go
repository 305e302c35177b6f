package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the append-only ledger of settlements reported by the gateway.
// (trans_id, business_short_code) identifies a settlement exactly once.
// Attributed is false for deposits that could not be bound to a tier.
type Payment struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	TransactionType   string          `gorm:"type:varchar(50)" json:"transaction_type"`
	TransID           string          `gorm:"type:varchar(50);not null;index:ux_payments_trans_shortcode,unique,priority:1" json:"trans_id"`
	TransTime         string          `gorm:"type:varchar(20)" json:"trans_time"`
	TransAmount       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"trans_amount"`
	BusinessShortCode string          `gorm:"type:varchar(20);not null;default:'';index:ux_payments_trans_shortcode,unique,priority:2" json:"business_short_code"`
	BillRefNumber     string          `gorm:"type:varchar(100);index" json:"bill_ref_number"`
	InvoiceNumber     string          `gorm:"type:varchar(100)" json:"invoice_number"`
	OrgAccountBalance string          `gorm:"type:varchar(50)" json:"org_account_balance"`
	ThirdPartyTransID string          `gorm:"type:varchar(100)" json:"third_party_trans_id"`
	MSISDN            string          `gorm:"column:msisdn;type:varchar(20);index" json:"msisdn"`
	FirstName         string          `gorm:"type:varchar(100)" json:"first_name"`
	MiddleName        string          `gorm:"type:varchar(100)" json:"middle_name"`
	LastName          string          `gorm:"type:varchar(100)" json:"last_name"`
	SellerID          *uint           `gorm:"index" json:"seller_id,omitempty"`
	TierID            *uint           `json:"tier_id,omitempty"`
	Attributed        bool            `gorm:"not null;default:false;index" json:"attributed"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
