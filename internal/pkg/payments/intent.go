package payments

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// InitiateRequest is the seller's request to pay for a tier by STK push.
type InitiateRequest struct {
	TierID      uint   `json:"tier_id" validate:"required"`
	PricingID   uint   `json:"pricing_id" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`
}

// Instructions tells a seller how to pay a tier through the paybill.
type Instructions struct {
	PaybillNumber    string          `json:"paybill_number"`
	AccountReference string          `json:"account_number"`
	Amount           decimal.Decimal `json:"amount"`
	TierName         string          `json:"tier_name"`
	DurationMonths   int             `json:"duration_months"`
	SellerName       string          `json:"seller_name"`
	Steps            []string        `json:"steps"`
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return invalid(verrs[0].Field(), verrs[0].Tag())
		}
		return invalid("request", err.Error())
	}
	return nil
}

func phoneDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validatePhone(raw string) (string, error) {
	digits := phoneDigits(raw)
	if len(digits) < 7 || len(digits) > 15 {
		return "", invalid("phone_number", "must contain 7 to 15 digits")
	}
	return digits, nil
}

// resolvePricing checks the tier and pricing exist and belong together.
func (s *Service) resolvePricing(tierID, pricingID uint) (models.Tier, models.TierPricing, error) {
	tier, ok := s.catalog.Tier(tierID)
	if !ok {
		return models.Tier{}, models.TierPricing{}, ErrTierNotFound
	}
	pricing, ok := s.catalog.Pricing(pricingID)
	if !ok {
		return models.Tier{}, models.TierPricing{}, ErrTierNotFound
	}
	if pricing.TierID != tier.ID {
		return models.Tier{}, models.TierPricing{}, ErrPricingMismatch
	}
	return tier, pricing, nil
}

// checkUpgrade rejects tiers that do not rank above the seller's active tier.
func (s *Service) checkUpgrade(ctx context.Context, sellerID uint, tier models.Tier) error {
	current, err := s.repo.GetSellerTier(ctx, sellerID)
	if err != nil {
		return fmt.Errorf("load seller tier: %w", err)
	}
	if current == nil || !current.IsActive(s.now()) {
		return nil
	}
	currentRank, ok := s.catalog.Rank(current.TierID)
	if !ok {
		return nil
	}
	if tier.Rank <= currentRank {
		return ErrDowngradeNotAllowed
	}
	return nil
}

// isDowngrade reports whether tierID ranks below the seller's active tier.
// Renewing the active tier is not a downgrade.
func (s *Service) isDowngrade(ctx context.Context, r Repository, sellerID, tierID uint) (bool, error) {
	current, err := r.GetSellerTier(ctx, sellerID)
	if err != nil {
		return false, fmt.Errorf("load seller tier: %w", err)
	}
	if current == nil || !current.IsActive(s.now()) {
		return false, nil
	}
	currentRank, ok := s.catalog.Rank(current.TierID)
	if !ok {
		return false, nil
	}
	rank, ok := s.catalog.Rank(tierID)
	return ok && rank < currentRank, nil
}

// Initiate validates a tier purchase, records the intent and sends an STK
// push to the payer's phone. On gateway rejection the failed transaction is
// returned together with ErrGatewayRejected.
func (s *Service) Initiate(ctx context.Context, sellerID uint, req InitiateRequest) (*models.PaymentTransaction, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	phone, err := validatePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	tier, pricing, err := s.resolvePricing(req.TierID, req.PricingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkUpgrade(ctx, sellerID, tier); err != nil {
		return nil, err
	}

	if _, err := s.cancelStale(ctx, sellerID); err != nil {
		return nil, err
	}

	open, err := s.repo.FindOpenTransaction(ctx, sellerID, tier.ID)
	if err != nil {
		return nil, fmt.Errorf("find open transaction: %w", err)
	}
	if open != nil {
		return nil, ErrPaymentAlreadyPending
	}

	now := s.now()
	failure, err := s.repo.FindRecentFailure(ctx, sellerID, tier.ID, now.Add(-s.cfg.RetryCooldown))
	if err != nil {
		return nil, fmt.Errorf("find recent failure: %w", err)
	}
	if failure != nil {
		return nil, ErrRetryTooSoon
	}

	if !pricing.Price.IsPositive() || pricing.Price.GreaterThan(s.cfg.AmountCeiling) {
		return nil, ErrAmountOutOfRange
	}

	activeKey := models.ActiveKeyFor(sellerID, tier.ID)
	tx := &models.PaymentTransaction{
		SellerID:        sellerID,
		TierID:          tier.ID,
		TierPricingID:   pricing.ID,
		Amount:          pricing.Price,
		PhoneNumber:     phone,
		Status:          models.PaymentStatusInitiated,
		TransactionType: models.PaymentTypeSTKPush,
		ActiveKey:       &activeKey,
		CreatedAt:       now,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if isDuplicate(err) {
			return nil, ErrPaymentAlreadyPending
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	log.Infof("[Payments] Initiated transaction %d for seller %d tier %d", tx.ID, sellerID, tier.ID)

	res, pushErr := s.gateway.Push(ctx, mpesa.PushRequest{
		Phone:       phone,
		Amount:      pricing.Price,
		AccountRef:  mpesa.TierReference(tier.ID, sellerID),
		Description: fmt.Sprintf("%s tier - %d months", tier.Name, pricing.DurationMonths),
	})
	if pushErr != nil {
		log.Warnf("[Payments] STK push for transaction %d rejected: %v", tx.ID, pushErr)
		fields := map[string]any{"error_message": pushErr.Error()}
		var apiErr *mpesa.APIError
		if errors.As(pushErr, &apiErr) && apiErr.Code != "" {
			fields["stk_response_code"] = apiErr.Code
		}
		if _, err := s.transition(ctx, s.repo, tx, models.PaymentStatusFailed, fields); err != nil {
			return nil, fmt.Errorf("record push failure: %w", err)
		}
		return tx, fmt.Errorf("%w: %s", ErrGatewayRejected, pushErr.Error())
	}

	_, err = s.transition(ctx, s.repo, tx, models.PaymentStatusPending, map[string]any{
		"checkout_request_id":      res.CheckoutRequestID,
		"merchant_request_id":      res.MerchantRequestID,
		"stk_response_code":        res.ResponseCode,
		"stk_response_description": res.ResponseDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("record push acknowledgment: %w", err)
	}
	return tx, nil
}

// cancelStale cancels the seller's initiated or pending transactions older
// than the stale threshold, and processing ones older than the processing
// expiry. A zero sellerID sweeps all sellers.
func (s *Service) cancelStale(ctx context.Context, sellerID uint) (int, error) {
	now := s.now()
	sweeps := []struct {
		statuses []string
		cutoff   time.Time
		reason   string
	}{
		{
			statuses: []string{models.PaymentStatusInitiated, models.PaymentStatusPending},
			cutoff:   now.Add(-s.cfg.StaleAfter),
			reason:   "Cancelled automatically after no confirmation",
		},
		{
			statuses: []string{models.PaymentStatusProcessing},
			cutoff:   now.Add(-s.cfg.ProcessingExpiry),
			reason:   "Expired while awaiting confirmation",
		},
	}

	cancelled := 0
	for _, sweep := range sweeps {
		stale, err := s.repo.ListStaleTransactions(ctx, sellerID, sweep.statuses, sweep.cutoff, 500)
		if err != nil {
			return cancelled, fmt.Errorf("list stale transactions: %w", err)
		}
		for i := range stale {
			tx := &stale[i]
			won, err := s.transition(ctx, s.repo, tx, models.PaymentStatusCancelled, map[string]any{
				"error_message": sweep.reason,
			})
			if err != nil {
				return cancelled, fmt.Errorf("cancel stale transaction %d: %w", tx.ID, err)
			}
			if won {
				cancelled++
				log.Infof("[Payments] Cancelled stale %s transaction %d for seller %d", tx.TransactionType, tx.ID, tx.SellerID)
			}
		}
	}
	return cancelled, nil
}

// SweepStale cancels stale intents of every seller.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	return s.cancelStale(ctx, 0)
}

// Instructions returns manual paybill payment instructions for a tier.
func (s *Service) Instructions(ctx context.Context, sellerID, tierID, pricingID uint) (*Instructions, error) {
	if tierID == 0 || pricingID == 0 {
		return nil, invalid("tier_id", "tier_id and pricing_id are required")
	}
	seller, err := s.repo.GetSeller(ctx, sellerID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}
	tier, pricing, err := s.resolvePricing(tierID, pricingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkUpgrade(ctx, sellerID, tier); err != nil {
		return nil, err
	}

	open, err := s.repo.FindOpenTransaction(ctx, sellerID, tier.ID)
	if err != nil {
		return nil, fmt.Errorf("find open transaction: %w", err)
	}
	if open != nil && open.CreatedAt.After(s.now().Add(-s.cfg.InstructionsWindow)) {
		return nil, ErrPaymentAlreadyPending
	}

	ref := mpesa.TierReference(tier.ID, sellerID)
	amount := pricing.Price.StringFixed(0)
	return &Instructions{
		PaybillNumber:    s.cfg.PaybillNumber,
		AccountReference: ref,
		Amount:           pricing.Price,
		TierName:         tier.Name,
		DurationMonths:   pricing.DurationMonths,
		SellerName:       seller.Fullname,
		Steps: []string{
			"Go to the M-Pesa menu",
			"Select Lipa na M-Pesa",
			"Select Pay Bill",
			"Enter Business Number: " + s.cfg.PaybillNumber,
			"Enter Account Number: " + ref,
			"Enter Amount: " + amount,
			"Enter your M-Pesa PIN and confirm",
		},
	}, nil
}

func (s *Service) ownedTransaction(ctx context.Context, sellerID, paymentID uint) (*models.PaymentTransaction, error) {
	tx, err := s.repo.GetTransaction(ctx, paymentID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if tx.SellerID != sellerID {
		return nil, ErrPaymentNotFound
	}
	return tx, nil
}

// Cancel cancels a seller's own non-terminal transaction while it is young.
func (s *Service) Cancel(ctx context.Context, sellerID, paymentID uint) (*models.PaymentTransaction, error) {
	tx, err := s.ownedTransaction(ctx, sellerID, paymentID)
	if err != nil {
		return nil, err
	}
	if tx.IsTerminal() {
		return nil, ErrNotCancellable
	}
	if tx.CreatedAt.Before(s.now().Add(-s.cfg.CancelWindow)) {
		return nil, ErrCancelWindowElapsed
	}
	won, err := s.transition(ctx, s.repo, tx, models.PaymentStatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNotCancellable
	}
	log.Infof("[Payments] Seller %d cancelled transaction %d", sellerID, tx.ID)
	return tx, nil
}

// Status returns a seller's transaction. An unsettled push is checked with
// the gateway first; gateway errors leave the stored status untouched.
func (s *Service) Status(ctx context.Context, sellerID, paymentID uint) (*models.PaymentTransaction, error) {
	tx, err := s.ownedTransaction(ctx, sellerID, paymentID)
	if err != nil {
		return nil, err
	}
	if !awaitingGateway(tx) || s.gateway == nil {
		return tx, nil
	}

	if err := s.pollGateway(ctx, tx); err != nil {
		log.Warnf("[Payments] Status query for transaction %d failed: %v", tx.ID, err)
	}
	fresh, err := s.repo.GetTransaction(ctx, tx.ID)
	if err != nil {
		return tx, nil
	}
	return fresh, nil
}

// awaitingGateway reports whether tx is a push the gateway has yet to settle.
func awaitingGateway(tx *models.PaymentTransaction) bool {
	if tx.TransactionType != models.PaymentTypeSTKPush || tx.CheckoutID() == "" {
		return false
	}
	return tx.Status == models.PaymentStatusPending || tx.Status == models.PaymentStatusProcessing
}

// pollGateway feeds a status query result into the state machine.
func (s *Service) pollGateway(ctx context.Context, tx *models.PaymentTransaction) error {
	res, err := s.gateway.QueryStatus(ctx, tx.CheckoutID())
	if err != nil {
		return err
	}
	corr := Correlation{Kind: ByCheckoutRequestID, CheckoutRequestID: tx.CheckoutID()}
	switch res.ResultCode {
	case "0":
		return s.Settle(ctx, corr, Outcome{Success: true})
	case "1":
		if tx.Status != models.PaymentStatusPending {
			return nil
		}
		_, err := s.transition(ctx, s.repo, tx, models.PaymentStatusProcessing, nil)
		return err
	default:
		return s.Settle(ctx, corr, Outcome{Reason: res.ResultDesc})
	}
}

// ReconcilePending polls the gateway for pending or processing pushes that
// are older than the minimum age and have not been settled by a callback.
func (s *Service) ReconcilePending(ctx context.Context, limit int) (int, error) {
	if s.gateway == nil {
		return 0, nil
	}
	rows, err := s.repo.ListUnsettledPushes(ctx, s.now().Add(-s.cfg.ReconcileMinimumAge), limit)
	if err != nil {
		return 0, fmt.Errorf("list unsettled pushes: %w", err)
	}
	checked := 0
	for i := range rows {
		if err := s.pollGateway(ctx, &rows[i]); err != nil {
			log.Warnf("[Payments] Reconcile of transaction %d failed: %v", rows[i].ID, err)
			continue
		}
		checked++
	}
	return checked, nil
}

// History returns the seller's latest transactions, newest first.
func (s *Service) History(ctx context.Context, sellerID uint) ([]models.PaymentTransaction, error) {
	limit := s.cfg.HistoryLimit
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListTransactions(ctx, sellerID, limit)
}
