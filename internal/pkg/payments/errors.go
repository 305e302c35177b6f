package payments

import (
	"errors"
	"fmt"
)

// Business rule rejections. Controllers map them to HTTP responses with
// errors.Is.
var (
	ErrSellerNotFound        = errors.New("seller not found")
	ErrTierNotFound          = errors.New("tier or pricing not found")
	ErrPricingMismatch       = errors.New("pricing does not belong to selected tier")
	ErrDowngradeNotAllowed   = errors.New("only upgrades to a higher tier are allowed")
	ErrPaymentAlreadyPending = errors.New("a payment for this tier is already in progress")
	ErrRetryTooSoon          = errors.New("a payment for this tier failed recently, retry later")
	ErrAmountOutOfRange      = errors.New("amount is out of range")
	ErrGatewayRejected       = errors.New("payment gateway rejected the request")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrNotCancellable        = errors.New("only pending payments can be cancelled")
	ErrCancelWindowElapsed   = errors.New("payment is too old to cancel")
	ErrNotCompleted          = errors.New("payment is not completed")
	ErrReceiptAlreadyUsed    = errors.New("receipt has already been used")
	ErrReceiptMismatch       = errors.New("receipt does not match the verified payment")
	ErrTooManyAttempts       = errors.New("too many failed verification attempts")
	ErrDepositNotFound       = errors.New("no deposit found for this receipt and amount")
	ErrNoMatchingTier        = errors.New("amount does not match any tier price")
	ErrAlreadyConfirmed      = errors.New("payment has already been confirmed")
	ErrInvalidState          = errors.New("payment is not awaiting confirmation")
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrAmountMismatch        = errors.New("amount does not match the tier pricing")
	ErrEventNotFound         = errors.New("gateway event not found")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ActivationError carries the failed activation step.
type ActivationError struct {
	TransactionID uint
	SellerID      uint
	Step          string
	Err           error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation of transaction %d for seller %d failed at %s: %v", e.TransactionID, e.SellerID, e.Step, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}
