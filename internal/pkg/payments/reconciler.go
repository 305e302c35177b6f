package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

// ErrUnknownCheckout marks a callback whose checkout request id matches no
// transaction. It is recorded and acknowledged, never retried.
var ErrUnknownCheckout = errors.New("callback for unknown checkout request")

type CorrelationKind int

const (
	ByCheckoutRequestID CorrelationKind = iota + 1
	ByReceipt
	ByBillReference
	ByPhoneAndAmount
)

// Correlation identifies what a settlement belongs to. Which fields are set
// depends on Kind.
type Correlation struct {
	Kind              CorrelationKind
	CheckoutRequestID string
	Receipt           string
	PaymentID         uint
	SellerID          uint
	TierID            uint
	Phone             string
	Amount            decimal.Decimal
	Deposit           *mpesa.C2BPayload
}

// Outcome is what the gateway reported for a payment. Metadata fields may be
// nil.
type Outcome struct {
	Success bool
	Receipt *string
	Amount  *decimal.Decimal
	Phone   *string
	PaidAt  *time.Time
	Reason  string
}

// IncomingSettlement is one of GatewayCallback, StructuredPaybill or
// PhoneOnlyPaybill.
type IncomingSettlement interface {
	settlement() (Correlation, Outcome)
}

// GatewayCallback is an STK push result.
type GatewayCallback struct {
	Callback *mpesa.STKCallback
}

func (g GatewayCallback) settlement() (Correlation, Outcome) {
	cb := g.Callback
	out := Outcome{Success: cb.Succeeded(), Reason: cb.ResultDesc}
	if out.Success {
		out.Receipt = cb.ReceiptNumber
		out.Amount = cb.Amount
		out.Phone = cb.PhoneNumber
		out.PaidAt = cb.TransactionDate
	}
	return Correlation{Kind: ByCheckoutRequestID, CheckoutRequestID: cb.CheckoutRequestID}, out
}

// StructuredPaybill is a paybill deposit referenced as TIER{tier}_{seller}.
type StructuredPaybill struct {
	Deposit  *mpesa.C2BPayload
	TierID   uint
	SellerID uint
}

func (p StructuredPaybill) settlement() (Correlation, Outcome) {
	return Correlation{
		Kind:     ByBillReference,
		Receipt:  p.Deposit.TransID,
		SellerID: p.SellerID,
		TierID:   p.TierID,
		Amount:   p.Deposit.TransAmount,
		Deposit:  p.Deposit,
	}, depositOutcome(p.Deposit)
}

// PhoneOnlyPaybill is a paybill deposit referenced by the seller's phone.
type PhoneOnlyPaybill struct {
	Deposit *mpesa.C2BPayload
}

func (p PhoneOnlyPaybill) settlement() (Correlation, Outcome) {
	return Correlation{
		Kind:    ByPhoneAndAmount,
		Receipt: p.Deposit.TransID,
		Phone:   p.Deposit.BillRefNumber,
		Amount:  p.Deposit.TransAmount,
		Deposit: p.Deposit,
	}, depositOutcome(p.Deposit)
}

// FromDeposit classifies a paybill deposit by its account reference.
func FromDeposit(p *mpesa.C2BPayload) IncomingSettlement {
	if tierID, sellerID, ok := mpesa.ParseTierReference(p.BillRefNumber); ok {
		return StructuredPaybill{Deposit: p, TierID: tierID, SellerID: sellerID}
	}
	return PhoneOnlyPaybill{Deposit: p}
}

func depositOutcome(p *mpesa.C2BPayload) Outcome {
	receipt := p.TransID
	amount := p.TransAmount
	phone := p.MSISDN
	out := Outcome{Success: true, Receipt: &receipt, Amount: &amount, Phone: &phone}
	if t, err := mpesa.ParseTimestamp(p.TransTime); err == nil {
		out.PaidAt = &t
	}
	return out
}

// Reconcile normalises an inbound settlement and settles it.
func (s *Service) Reconcile(ctx context.Context, in IncomingSettlement) error {
	corr, out := in.settlement()
	return s.Settle(ctx, corr, out)
}

// Settle drives the correlated transaction to its final state. It is safe to
// call repeatedly and concurrently for the same settlement.
func (s *Service) Settle(ctx context.Context, corr Correlation, out Outcome) error {
	switch corr.Kind {
	case ByCheckoutRequestID:
		return s.settleCheckout(ctx, corr.CheckoutRequestID, out)
	case ByReceipt:
		return s.settleVerified(ctx, corr.PaymentID, corr.Receipt)
	case ByBillReference, ByPhoneAndAmount:
		return s.settleDeposit(ctx, corr)
	}
	return fmt.Errorf("unknown correlation kind %d", corr.Kind)
}

func (s *Service) settleCheckout(ctx context.Context, checkoutRequestID string, out Outcome) error {
	tx, err := s.repo.GetTransactionByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		if isNotFound(err) {
			log.Warnf("[Payments] Callback for unknown checkout request %s", checkoutRequestID)
			return ErrUnknownCheckout
		}
		return err
	}

	if tx.IsTerminal() {
		if tx.Status == models.PaymentStatusCompleted && out.Success {
			s.backfillReceipt(ctx, tx, out)
		}
		log.Infof("[Payments] Transaction %d already %s, ignoring callback", tx.ID, tx.Status)
		return nil
	}

	if !out.Success {
		won, err := s.transition(ctx, s.repo, tx, models.PaymentStatusFailed, map[string]any{
			"error_message": out.Reason,
		})
		if err != nil {
			return err
		}
		if won {
			log.Infof("[Payments] Transaction %d failed: %s", tx.ID, out.Reason)
		}
		return nil
	}

	var notes []*models.Notification
	err = s.repo.Transaction(ctx, func(r Repository) error {
		work := *tx
		won, err := s.transition(ctx, r, &work, models.PaymentStatusCompleted, completionFields(out))
		if err != nil {
			if isDuplicate(err) {
				return ErrReceiptAlreadyUsed
			}
			return err
		}
		if !won {
			return nil
		}
		log.Infof("[Payments] Transaction %d completed with receipt %s", work.ID, work.Receipt())
		notes = append(notes, s.activateInUnit(ctx, r, &work))
		return nil
	})
	if errors.Is(err, ErrReceiptAlreadyUsed) {
		log.Errorf("[Payments] Receipt %s of transaction %d already settled another payment", deref(out.Receipt), tx.ID)
		_, ferr := s.transition(ctx, s.repo, tx, models.PaymentStatusFailed, map[string]any{
			"error_message": fmt.Sprintf("Receipt %s already used by another payment", deref(out.Receipt)),
		})
		if ferr != nil {
			return ferr
		}
		return err
	}
	if err != nil {
		return err
	}
	s.dispatch(ctx, notes)
	return nil
}

func completionFields(out Outcome) map[string]any {
	fields := map[string]any{}
	if receipt := deref(out.Receipt); receipt != "" {
		fields["mpesa_receipt_number"] = receipt
		fields["completed_receipt"] = receipt
	}
	if out.PaidAt != nil {
		fields["transaction_date"] = *out.PaidAt
	}
	if out.Phone != nil {
		fields["callback_phone_number"] = *out.Phone
	}
	if out.Amount != nil {
		fields["callback_amount"] = decimal.NewNullDecimal(*out.Amount)
	}
	return fields
}

// backfillReceipt records settlement details that arrive after a transaction
// was completed from a status query.
func (s *Service) backfillReceipt(ctx context.Context, tx *models.PaymentTransaction, out Outcome) {
	receipt := deref(out.Receipt)
	if receipt == "" || tx.Receipt() != "" {
		return
	}
	if err := s.repo.UpdateTransactionFields(ctx, tx.ID, completionFields(out)); err != nil {
		log.Errorf("[Payments] Could not record receipt %s for transaction %d: %v", receipt, tx.ID, err)
		return
	}
	tx.MpesaReceiptNumber = &receipt
	if out.Phone != nil {
		tx.CallbackPhoneNumber = *out.Phone
	}
	if out.Amount != nil {
		tx.CallbackAmount = decimal.NewNullDecimal(*out.Amount)
	}
	if out.PaidAt != nil {
		tx.TransactionDate = out.PaidAt
	}
	if err := s.ensureLedger(ctx, s.repo, tx); err != nil {
		log.Errorf("[Payments] Could not record ledger row for transaction %d: %v", tx.ID, err)
	}
}

// settleDeposit handles paybill confirmations. The ledger insert is the
// idempotency gate: a deposit whose ledger row already exists was settled.
func (s *Service) settleDeposit(ctx context.Context, corr Correlation) error {
	dep := corr.Deposit
	if dep == nil {
		return errors.New("deposit settlement without payload")
	}

	var seller *models.Seller
	var err error
	if corr.Kind == ByBillReference {
		seller, err = s.repo.GetSeller(ctx, corr.SellerID)
	} else {
		seller, err = s.repo.FindSellerByAccount(ctx, corr.Phone)
	}
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("resolve seller: %w", err)
	}

	var pricing models.TierPricing
	matched := false
	if seller != nil {
		if corr.Kind == ByBillReference {
			pricing, matched = s.catalog.PriceToTierOption(corr.TierID, corr.Amount)
		} else {
			pricing, matched = s.catalog.PriceToAnyTierOption(corr.Amount)
		}
	}

	if matched {
		down, err := s.isDowngrade(ctx, s.repo, seller.ID, pricing.TierID)
		if err != nil {
			return err
		}
		if down {
			log.Warnf("[Payments] Deposit %s for tier %d would downgrade seller %d, leaving it for review", dep.TransID, pricing.TierID, seller.ID)
			matched = false
		}
	}

	ledger := ledgerFromDeposit(dep)
	if seller == nil || !matched {
		if seller != nil {
			ledger.SellerID = &seller.ID
		}
		created, err := s.repo.CreatePaymentIfNotExists(ctx, ledger)
		if err != nil {
			return fmt.Errorf("record unattributed deposit: %w", err)
		}
		if created {
			log.Warnf("[Payments] Unattributed deposit %s of %s with reference %q", dep.TransID, dep.TransAmount.StringFixed(2), dep.BillRefNumber)
		}
		return nil
	}

	var notes []*models.Notification
	err = s.repo.Transaction(ctx, func(r Repository) error {
		tierID := pricing.TierID
		ledger.SellerID = &seller.ID
		ledger.TierID = &tierID
		ledger.Attributed = true
		created, err := r.CreatePaymentIfNotExists(ctx, ledger)
		if err != nil {
			return fmt.Errorf("record deposit: %w", err)
		}
		if !created {
			log.Infof("[Payments] Deposit %s already processed", dep.TransID)
			return nil
		}

		now := s.now()
		receipt := dep.TransID
		checkout := "MANUAL_" + dep.TransID
		tx := &models.PaymentTransaction{
			SellerID:            seller.ID,
			TierID:              pricing.TierID,
			TierPricingID:       pricing.ID,
			Amount:              pricing.Price,
			PhoneNumber:         dep.MSISDN,
			Status:              models.PaymentStatusCompleted,
			TransactionType:     models.PaymentTypeManualPaybill,
			CheckoutRequestID:   &checkout,
			MpesaReceiptNumber:  &receipt,
			CompletedReceipt:    &receipt,
			CallbackPhoneNumber: dep.MSISDN,
			CallbackAmount:      decimal.NewNullDecimal(dep.TransAmount),
			CompletedAt:         &now,
			CreatedAt:           now,
		}
		if t, err := mpesa.ParseTimestamp(dep.TransTime); err == nil {
			tx.TransactionDate = &t
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			if isDuplicate(err) {
				log.Warnf("[Payments] Receipt %s already bound to a completed payment", dep.TransID)
				return nil
			}
			return fmt.Errorf("create paybill transaction: %w", err)
		}
		log.Infof("[Payments] Paybill deposit %s completed transaction %d for seller %d", dep.TransID, tx.ID, seller.ID)
		notes = append(notes, s.activateInUnit(ctx, r, tx))
		return nil
	})
	if err != nil {
		return err
	}
	s.dispatch(ctx, notes)
	return nil
}

// settleVerified completes a manually verified transaction.
func (s *Service) settleVerified(ctx context.Context, paymentID uint, receipt string) error {
	tx, err := s.repo.GetTransaction(ctx, paymentID)
	if err != nil {
		if isNotFound(err) {
			return ErrPaymentNotFound
		}
		return err
	}

	var notes []*models.Notification
	err = s.repo.Transaction(ctx, func(r Repository) error {
		work := *tx
		down, err := s.isDowngrade(ctx, r, work.SellerID, work.TierID)
		if err != nil {
			return err
		}
		if down {
			return ErrDowngradeNotAllowed
		}
		won, err := s.transition(ctx, r, &work, models.PaymentStatusCompleted, map[string]any{
			"mpesa_receipt_number": receipt,
			"completed_receipt":    receipt,
		})
		if err != nil {
			if isDuplicate(err) {
				return ErrReceiptAlreadyUsed
			}
			return err
		}
		if !won {
			current, err := r.GetTransaction(ctx, tx.ID)
			if err == nil && current.Status == models.PaymentStatusCompleted {
				return ErrAlreadyConfirmed
			}
			return ErrInvalidState
		}
		if dep, err := r.FindPaymentByTransID(ctx, receipt); err == nil {
			if dep.SellerID != nil && *dep.SellerID != work.SellerID {
				return ErrDepositNotFound
			}
			if err := r.MarkPaymentAttributed(ctx, dep.ID, work.SellerID, work.TierID); err != nil {
				return fmt.Errorf("attribute deposit: %w", err)
			}
		}
		log.Infof("[Payments] Transaction %d confirmed with receipt %s", work.ID, receipt)
		notes = append(notes, s.activateInUnit(ctx, r, &work))
		return nil
	})
	if err != nil {
		return err
	}
	s.dispatch(ctx, notes)
	return nil
}

func ledgerFromDeposit(p *mpesa.C2BPayload) *models.Payment {
	return &models.Payment{
		TransactionType:   p.TransactionType,
		TransID:           p.TransID,
		TransTime:         p.TransTime,
		TransAmount:       p.TransAmount,
		BusinessShortCode: p.BusinessShortCode,
		BillRefNumber:     p.BillRefNumber,
		InvoiceNumber:     p.InvoiceNumber,
		OrgAccountBalance: p.OrgAccountBalance,
		ThirdPartyTransID: p.ThirdPartyTransID,
		MSISDN:            p.MSISDN,
		FirstName:         p.FirstName,
		MiddleName:        p.MiddleName,
		LastName:          p.LastName,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
