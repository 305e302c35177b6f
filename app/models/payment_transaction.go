package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusInitiated  = "initiated"
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"

	PaymentTypeSTKPush            = "stk_push"
	PaymentTypeManualPaybill      = "manual_paybill"
	PaymentTypeManualVerification = "manual_verification"
)

// PaymentTransaction tracks one attempt of a seller to pay for a tier.
//
// ActiveKey is set to "seller:tier" while the transaction is non-terminal and
// cleared when it terminates; its unique index allows a single open attempt
// per seller and tier. CompletedReceipt mirrors the receipt number only while
// the transaction is completed, so a receipt settles at most one transaction.
type PaymentTransaction struct {
	ID                     uint                `gorm:"primaryKey" json:"id"`
	SellerID               uint                `gorm:"not null;index:idx_payment_transactions_seller_tier,priority:1" json:"seller_id"`
	TierID                 uint                `gorm:"not null;index:idx_payment_transactions_seller_tier,priority:2" json:"tier_id"`
	TierPricingID          uint                `gorm:"not null" json:"tier_pricing_id"`
	Amount                 decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"amount"`
	PhoneNumber            string              `gorm:"type:varchar(20)" json:"phone_number"`
	Status                 string              `gorm:"type:varchar(20);not null;default:'initiated';index" json:"status"`
	TransactionType        string              `gorm:"type:varchar(30);not null;default:'stk_push'" json:"transaction_type"`
	CheckoutRequestID      *string             `gorm:"type:varchar(100);uniqueIndex" json:"checkout_request_id,omitempty"`
	MerchantRequestID      *string             `gorm:"type:varchar(100);uniqueIndex" json:"merchant_request_id,omitempty"`
	MpesaReceiptNumber     *string             `gorm:"type:varchar(50);index" json:"mpesa_receipt_number,omitempty"`
	TransactionDate        *time.Time          `gorm:"type:timestamp;default:null" json:"transaction_date,omitempty"`
	CallbackPhoneNumber    string              `gorm:"type:varchar(20)" json:"callback_phone_number,omitempty"`
	CallbackAmount         decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"callback_amount"`
	StkResponseCode        string              `gorm:"type:varchar(10)" json:"stk_response_code,omitempty"`
	StkResponseDescription string              `gorm:"type:varchar(255)" json:"stk_response_description,omitempty"`
	ErrorMessage           string              `gorm:"type:text" json:"error_message,omitempty"`
	ActivationError        string              `gorm:"type:text" json:"activation_error,omitempty"`
	ActiveKey              *string             `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	CompletedReceipt       *string             `gorm:"type:varchar(50);uniqueIndex" json:"-"`
	CompletedAt            *time.Time          `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	FailedAt               *time.Time          `gorm:"type:timestamp;default:null" json:"failed_at,omitempty"`
	CancelledAt            *time.Time          `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CreatedAt              time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt              time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminalStatus reports whether no transition may leave the status.
func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the transaction reached a final status.
func (t *PaymentTransaction) IsTerminal() bool {
	return IsTerminalStatus(t.Status)
}

// ActiveKeyFor builds the value of the open-attempt guard column.
func ActiveKeyFor(sellerID, tierID uint) string {
	return fmt.Sprintf("%d:%d", sellerID, tierID)
}

// Receipt returns the receipt number or an empty string.
func (t *PaymentTransaction) Receipt() string {
	if t.MpesaReceiptNumber == nil {
		return ""
	}
	return *t.MpesaReceiptNumber
}

// CheckoutID returns the checkout request id or an empty string.
func (t *PaymentTransaction) CheckoutID() string {
	if t.CheckoutRequestID == nil {
		return ""
	}
	return *t.CheckoutRequestID
}
