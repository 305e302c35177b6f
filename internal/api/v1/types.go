package apiv1

import (
	"github.com/shopspring/decimal"

	"github.com/carboncube/tierpay/app/controllers"
)

// Pong is the ping response.
type Pong struct {
	Ping string `json:"ping"`
}

// Error is the error body for malformed requests.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// InstructionsParams are the query parameters of the paybill instructions.
type InstructionsParams struct {
	TierID    uint `query:"tier_id"`
	PricingID uint `query:"pricing_id"`
}

// PricingOption is one purchasable duration of a tier.
type PricingOption struct {
	ID             uint            `json:"id"`
	Price          decimal.Decimal `json:"price"`
	DurationMonths int             `json:"duration_months"`
}

// TierOption is a tier with its pricings.
type TierOption struct {
	ID       uint            `json:"id"`
	Name     string          `json:"name"`
	Rank     int             `json:"rank"`
	AdsLimit int             `json:"ads_limit"`
	Pricings []PricingOption `json:"pricings"`
}

// InitiateResponse acknowledges a sent STK push.
type InitiateResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	PaymentID         uint   `json:"payment_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id"`
}

// PaymentResponse wraps a single transaction.
type PaymentResponse struct {
	Success bool                        `json:"success"`
	Message string                      `json:"message,omitempty"`
	Payment controllers.TransactionView `json:"payment"`
}

// HistoryResponse lists a seller's transactions, newest first.
type HistoryResponse struct {
	Success  bool                          `json:"success"`
	Payments []controllers.TransactionView `json:"payments"`
}
