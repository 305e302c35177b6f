package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminalStatus(t *testing.T) {
	cases := map[string]bool{
		PaymentStatusInitiated:  false,
		PaymentStatusPending:    false,
		PaymentStatusProcessing: false,
		PaymentStatusCompleted:  true,
		PaymentStatusFailed:     true,
		PaymentStatusCancelled:  true,
	}
	for status, want := range cases {
		assert.Equal(t, want, IsTerminalStatus(status), status)
		assert.Equal(t, want, (&PaymentTransaction{Status: status}).IsTerminal(), status)
	}
}

func TestActiveKeyFor(t *testing.T) {
	assert.Equal(t, "117:4", ActiveKeyFor(117, 4))
}

func TestPaymentTransactionAccessors(t *testing.T) {
	tx := &PaymentTransaction{}
	assert.Equal(t, "", tx.Receipt())
	assert.Equal(t, "", tx.CheckoutID())

	receipt, checkout := "ABC123XYZ", "ws_CO_1"
	tx.MpesaReceiptNumber = &receipt
	tx.CheckoutRequestID = &checkout
	assert.Equal(t, receipt, tx.Receipt())
	assert.Equal(t, checkout, tx.CheckoutID())
}

func TestSellerTierIsActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	var missing *SellerTier
	assert.False(t, missing.IsActive(now))
	assert.True(t, (&SellerTier{}).IsActive(now))
	assert.True(t, (&SellerTier{ExpiresAt: &future}).IsActive(now))
	assert.False(t, (&SellerTier{ExpiresAt: &past}).IsActive(now))
}

func TestNotificationValidate(t *testing.T) {
	n := &Notification{SellerID: 1, Kind: NotificationKindTierUpgrade, Title: "Tier upgraded", Message: "Welcome to Gold"}
	assert.NoError(t, n.Validate())

	n.Kind = "like"
	assert.Error(t, n.Validate())
}

func TestGatewayEventSucceeded(t *testing.T) {
	now := time.Now()
	var missing *GatewayEvent
	assert.False(t, missing.Succeeded())
	assert.False(t, (&GatewayEvent{}).Succeeded())
	assert.False(t, (&GatewayEvent{ProcessedAt: &now, ProcessingError: "boom"}).Succeeded())
	assert.True(t, (&GatewayEvent{ProcessedAt: &now}).Succeeded())
}
