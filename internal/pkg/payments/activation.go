package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
	"github.com/gofiber/fiber/v2/log"
)

// activateInUnit runs activation in a savepoint of r. A failure rolls back
// only the activation and is stored on the transaction, which stays
// completed.
func (s *Service) activateInUnit(ctx context.Context, r Repository, tx *models.PaymentTransaction) *models.Notification {
	var note *models.Notification
	err := r.Transaction(ctx, func(ar Repository) error {
		n, err := s.activate(ctx, ar, tx)
		if err != nil {
			return err
		}
		note = n
		return nil
	})
	if err != nil {
		s.recordActivationFailure(ctx, r, tx, err)
		return nil
	}
	if tx.ActivationError != "" {
		if err := r.UpdateTransactionFields(ctx, tx.ID, map[string]any{"activation_error": ""}); err != nil {
			log.Warnf("[Payments] Could not clear activation error of transaction %d: %v", tx.ID, err)
		}
		tx.ActivationError = ""
	}
	return note
}

func (s *Service) recordActivationFailure(ctx context.Context, r Repository, tx *models.PaymentTransaction, err error) {
	step := "unknown"
	var ae *ActivationError
	if errors.As(err, &ae) {
		step = ae.Step
	}
	log.Errorf("[Payments] Activation failed: transaction=%d seller=%d step=%s: %v", tx.ID, tx.SellerID, step, err)
	tx.ActivationError = err.Error()
	if uerr := r.UpdateTransactionFields(ctx, tx.ID, map[string]any{"activation_error": tx.ActivationError}); uerr != nil {
		log.Errorf("[Payments] Could not store activation error of transaction %d: %v", tx.ID, uerr)
	}
}

// activate materialises a completed transaction into the seller's tier, a
// ledger row and a notification. The seller row lock makes this the only
// writer of the seller's tier.
func (s *Service) activate(ctx context.Context, r Repository, tx *models.PaymentTransaction) (*models.Notification, error) {
	fail := func(step string, err error) error {
		return &ActivationError{TransactionID: tx.ID, SellerID: tx.SellerID, Step: step, Err: err}
	}

	if _, err := r.LockSeller(ctx, tx.SellerID); err != nil {
		return nil, fail("lock_seller", err)
	}

	now := s.now()
	current, err := r.GetSellerTier(ctx, tx.SellerID)
	if err != nil {
		return nil, fail("load_seller_tier", err)
	}
	if current != nil && current.TierID == tx.TierID && current.IsActive(now) && !activatedBy(current, tx.ID) {
		log.Warnf("[Payments] Seller %d already has tier %d active, skipping activation for transaction %d", tx.SellerID, tx.TierID, tx.ID)
		return nil, nil
	}

	if tx.Status != models.PaymentStatusCompleted {
		log.Warnf("[Payments] Refusing to activate transaction %d in status %s", tx.ID, tx.Status)
		return nil, fail("status", ErrNotCompleted)
	}

	pricing, ok := s.catalog.Pricing(tx.TierPricingID)
	if !ok || pricing.TierID != tx.TierID {
		return nil, fail("pricing", ErrTierNotFound)
	}
	if !pricing.Price.Equal(tx.Amount) {
		return nil, fail("pricing", ErrAmountMismatch)
	}

	var expiresAt *time.Time
	if !s.catalog.IsLowest(tx.TierID) {
		t := now.AddDate(0, pricing.DurationMonths, 0)
		expiresAt = &t
	}
	txID := tx.ID
	st := &models.SellerTier{
		SellerID:             tx.SellerID,
		TierID:               tx.TierID,
		DurationMonths:       pricing.DurationMonths,
		ExpiresAt:            expiresAt,
		PaymentTransactionID: &txID,
	}
	if err := r.UpsertSellerTier(ctx, st); err != nil {
		return nil, fail("seller_tier", err)
	}

	if err := s.ensureLedger(ctx, r, tx); err != nil {
		return nil, fail("ledger", err)
	}

	note, err := s.notifyUpgrade(ctx, r, tx, now)
	if err != nil {
		return nil, fail("notification", err)
	}

	log.Infof("[Payments] Seller %d activated on tier %d by transaction %d", tx.SellerID, tx.TierID, tx.ID)
	return note, nil
}

func activatedBy(st *models.SellerTier, txID uint) bool {
	return st.PaymentTransactionID != nil && *st.PaymentTransactionID == txID
}

// ensureLedger writes the ledger row of a receipt-bearing transaction unless
// one exists for that receipt.
func (s *Service) ensureLedger(ctx context.Context, r Repository, tx *models.PaymentTransaction) error {
	receipt := tx.Receipt()
	if receipt == "" {
		return nil
	}
	if _, err := r.FindPaymentByTransID(ctx, receipt); err == nil {
		return nil
	} else if !isNotFound(err) {
		return err
	}

	paidAt := s.now()
	if tx.TransactionDate != nil {
		paidAt = *tx.TransactionDate
	}
	amount := tx.Amount
	if tx.CallbackAmount.Valid {
		amount = tx.CallbackAmount.Decimal
	}
	msisdn := tx.CallbackPhoneNumber
	if msisdn == "" {
		msisdn = tx.PhoneNumber
	}
	sellerID, tierID := tx.SellerID, tx.TierID
	_, err := r.CreatePaymentIfNotExists(ctx, &models.Payment{
		TransactionType:   "CustomerPayBillOnline",
		TransID:           receipt,
		TransTime:         mpesa.Timestamp(paidAt),
		TransAmount:       amount,
		BusinessShortCode: s.cfg.PaybillNumber,
		BillRefNumber:     mpesa.TierReference(tx.TierID, tx.SellerID),
		MSISDN:            msisdn,
		SellerID:          &sellerID,
		TierID:            &tierID,
		Attributed:        true,
	})
	return err
}

// notifyUpgrade stores a tier upgrade notification unless one was created
// for the seller within the dedupe window.
func (s *Service) notifyUpgrade(ctx context.Context, r Repository, tx *models.PaymentTransaction, now time.Time) (*models.Notification, error) {
	exists, err := r.RecentNotificationExists(ctx, tx.SellerID, models.NotificationKindTierUpgrade, now.Add(-s.cfg.NotificationDedupe))
	if err != nil {
		return nil, err
	}
	if exists {
		log.Infof("[Payments] Upgrade notification for seller %d suppressed", tx.SellerID)
		return nil, nil
	}

	tierName := fmt.Sprintf("tier %d", tx.TierID)
	if tier, ok := s.catalog.Tier(tx.TierID); ok {
		tierName = tier.Name
	}
	n := &models.Notification{
		SellerID:    tx.SellerID,
		Kind:        models.NotificationKindTierUpgrade,
		Title:       "Tier upgraded",
		Message:     fmt.Sprintf("Your account has been upgraded to the %s tier.", tierName),
		ReferenceID: tx.ID,
		CreatedAt:   now,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if err := r.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// RetryActivation re-runs activation of a completed transaction whose
// activation failed earlier.
func (s *Service) RetryActivation(ctx context.Context, paymentID uint) (*models.PaymentTransaction, error) {
	tx, err := s.repo.GetTransaction(ctx, paymentID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if tx.Status != models.PaymentStatusCompleted {
		return tx, ErrNotCompleted
	}

	var note *models.Notification
	err = s.repo.Transaction(ctx, func(r Repository) error {
		n, err := s.activate(ctx, r, tx)
		if err != nil {
			return err
		}
		note = n
		return r.UpdateTransactionFields(ctx, tx.ID, map[string]any{"activation_error": ""})
	})
	if err != nil {
		s.recordActivationFailure(ctx, s.repo, tx, err)
		return tx, err
	}
	s.dispatch(ctx, []*models.Notification{note})

	fresh, err := s.repo.GetTransaction(ctx, tx.ID)
	if err != nil {
		return tx, nil
	}
	return fresh, nil
}
