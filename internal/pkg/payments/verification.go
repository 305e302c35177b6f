package payments

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/carboncube/tierpay/app/models"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

var receiptPattern = regexp.MustCompile(`^[A-Z0-9]{6,20}$`)

// VerifyRequest is a seller's claim that a paybill deposit was theirs.
// TierID narrows the tier lookup when several tiers share a price.
type VerifyRequest struct {
	Receipt string          `json:"receipt" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
	TierID  uint            `json:"tier_id"`
}

// ConfirmRequest completes a verified payment.
type ConfirmRequest struct {
	PaymentID uint   `json:"payment_id" validate:"required"`
	Receipt   string `json:"receipt" validate:"required"`
}

func normalizeReceipt(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Verify checks a self-reported receipt against recorded deposits. A
// plausible match is parked in processing until Confirm.
func (s *Service) Verify(ctx context.Context, sellerID uint, req VerifyRequest) (*models.PaymentTransaction, error) {
	req.Receipt = normalizeReceipt(req.Receipt)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() || req.Amount.GreaterThan(s.cfg.AmountCeiling) {
		return nil, ErrAmountOutOfRange
	}

	used, err := s.repo.CompletedReceiptExists(ctx, req.Receipt)
	if err != nil {
		return nil, fmt.Errorf("check receipt: %w", err)
	}
	if used {
		return nil, ErrReceiptAlreadyUsed
	}

	failures, err := s.attempts.Failures(ctx, sellerID)
	if err != nil {
		log.Warnf("[Payments] Could not read verification attempts of seller %d: %v", sellerID, err)
	}
	if failures >= s.cfg.MaxVerifyAttempts {
		return nil, ErrTooManyAttempts
	}

	deposit, err := s.repo.FindPaymentByTransID(ctx, req.Receipt)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("find deposit: %w", err)
	}
	if deposit == nil || !deposit.TransAmount.Equal(req.Amount) {
		return nil, s.failedAttempt(ctx, sellerID, ErrDepositNotFound)
	}
	if deposit.SellerID != nil && *deposit.SellerID != sellerID {
		log.Warnf("[Payments] Seller %d tried to verify receipt %s bound to seller %d", sellerID, req.Receipt, *deposit.SellerID)
		return nil, s.failedAttempt(ctx, sellerID, ErrDepositNotFound)
	}

	var pricing models.TierPricing
	var ok bool
	if req.TierID != 0 {
		pricing, ok = s.catalog.PriceToTierOption(req.TierID, req.Amount)
	} else {
		pricing, ok = s.catalog.PriceToAnyTierOption(req.Amount)
	}
	if !ok {
		return nil, s.failedAttempt(ctx, sellerID, ErrNoMatchingTier)
	}
	down, err := s.isDowngrade(ctx, s.repo, sellerID, pricing.TierID)
	if err != nil {
		return nil, err
	}
	if down {
		return nil, ErrDowngradeNotAllowed
	}

	tx, err := s.parkVerification(ctx, sellerID, pricing, req.Receipt, deposit.MSISDN)
	if err != nil {
		return nil, err
	}
	log.Infof("[Payments] Seller %d verified receipt %s as transaction %d", sellerID, req.Receipt, tx.ID)
	return tx, nil
}

func (s *Service) failedAttempt(ctx context.Context, sellerID uint, reason error) error {
	if err := s.attempts.RecordFailure(ctx, sellerID); err != nil {
		log.Warnf("[Payments] Could not record verification attempt of seller %d: %v", sellerID, err)
	}
	return reason
}

// parkVerification stores the verified receipt on a processing transaction,
// reusing the seller's open transaction for the tier when there is one.
func (s *Service) parkVerification(ctx context.Context, sellerID uint, pricing models.TierPricing, receipt, msisdn string) (*models.PaymentTransaction, error) {
	fields := map[string]any{
		"transaction_type":     models.PaymentTypeManualVerification,
		"tier_pricing_id":      pricing.ID,
		"amount":               pricing.Price,
		"mpesa_receipt_number": receipt,
	}

	open, err := s.repo.FindOpenTransaction(ctx, sellerID, pricing.TierID)
	if err != nil {
		return nil, fmt.Errorf("find open transaction: %w", err)
	}
	if open != nil {
		switch open.Status {
		case models.PaymentStatusProcessing:
			if err := s.repo.UpdateTransactionFields(ctx, open.ID, fields); err != nil {
				return nil, err
			}
			return s.repo.GetTransaction(ctx, open.ID)
		case models.PaymentStatusPending:
			won, err := s.transition(ctx, s.repo, open, models.PaymentStatusProcessing, fields)
			if err != nil {
				return nil, err
			}
			if won {
				return open, nil
			}
		case models.PaymentStatusInitiated:
			if _, err := s.transition(ctx, s.repo, open, models.PaymentStatusCancelled, map[string]any{
				"error_message": "Superseded by manual verification",
			}); err != nil {
				return nil, err
			}
		}
	}

	activeKey := models.ActiveKeyFor(sellerID, pricing.TierID)
	tx := &models.PaymentTransaction{
		SellerID:           sellerID,
		TierID:             pricing.TierID,
		TierPricingID:      pricing.ID,
		Amount:             pricing.Price,
		PhoneNumber:        msisdn,
		Status:             models.PaymentStatusProcessing,
		TransactionType:    models.PaymentTypeManualVerification,
		MpesaReceiptNumber: &receipt,
		ActiveKey:          &activeKey,
		CreatedAt:          s.now(),
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if isDuplicate(err) {
			return nil, ErrPaymentAlreadyPending
		}
		return nil, fmt.Errorf("create verification transaction: %w", err)
	}
	return tx, nil
}

// Confirm completes a verified manual payment and activates the tier.
func (s *Service) Confirm(ctx context.Context, sellerID, paymentID uint, receipt string) (*models.PaymentTransaction, error) {
	receipt = normalizeReceipt(receipt)
	if !receiptPattern.MatchString(receipt) {
		return nil, invalid("receipt", "must be 6 to 20 letters or digits")
	}
	tx, err := s.ownedTransaction(ctx, sellerID, paymentID)
	if err != nil {
		return nil, err
	}
	if tx.Status == models.PaymentStatusCompleted {
		return nil, ErrAlreadyConfirmed
	}
	if tx.Status != models.PaymentStatusProcessing || tx.TransactionType != models.PaymentTypeManualVerification {
		return nil, ErrInvalidState
	}
	if tx.Receipt() != receipt {
		return nil, ErrReceiptMismatch
	}

	err = s.Settle(ctx, Correlation{Kind: ByReceipt, PaymentID: tx.ID, Receipt: receipt}, Outcome{Success: true, Receipt: &receipt})
	if err != nil {
		if errors.Is(err, ErrReceiptAlreadyUsed) {
			log.Warnf("[Payments] Seller %d tried to confirm used receipt %s", sellerID, receipt)
		}
		return nil, err
	}
	return s.repo.GetTransaction(ctx, tx.ID)
}
