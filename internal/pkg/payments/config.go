package payments

import (
	"strconv"
	"time"

	"github.com/carboncube/tierpay/internal/pkg/env"
	"github.com/shopspring/decimal"
)

// Config holds the business limits of the payment flows.
type Config struct {
	PaybillNumber       string
	AmountCeiling       decimal.Decimal
	StaleAfter          time.Duration
	ProcessingExpiry    time.Duration
	CancelWindow        time.Duration
	RetryCooldown       time.Duration
	InstructionsWindow  time.Duration
	NotificationDedupe  time.Duration
	MaxVerifyAttempts   int64
	HistoryLimit        int
	ReconcileMinimumAge time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		AmountCeiling:       decimal.NewFromInt(1_000_000),
		StaleAfter:          10 * time.Minute,
		ProcessingExpiry:    24 * time.Hour,
		CancelWindow:        10 * time.Minute,
		RetryCooldown:       5 * time.Minute,
		InstructionsWindow:  time.Hour,
		NotificationDedupe:  time.Hour,
		MaxVerifyAttempts:   5,
		HistoryLimit:        20,
		ReconcileMinimumAge: 2 * time.Minute,
	}
}

// ConfigFromEnv applies PAYMENTS_* overrides to DefaultConfig.
func ConfigFromEnv(paybillNumber string) Config {
	cfg := DefaultConfig()
	cfg.PaybillNumber = paybillNumber
	if v, err := decimal.NewFromString(env.GetEnv("PAYMENTS_AMOUNT_CEILING", "")); err == nil && v.IsPositive() {
		cfg.AmountCeiling = v
	}
	if v, err := strconv.ParseInt(env.GetEnv("PAYMENTS_MAX_VERIFY_ATTEMPTS", ""), 10, 64); err == nil && v > 0 {
		cfg.MaxVerifyAttempts = v
	}
	if v, err := time.ParseDuration(env.GetEnv("PAYMENTS_RETRY_COOLDOWN", "")); err == nil && v > 0 {
		cfg.RetryCooldown = v
	}
	if v, err := time.ParseDuration(env.GetEnv("PAYMENTS_STALE_AFTER", "")); err == nil && v > 0 {
		cfg.StaleAfter = v
	}
	if v, err := time.ParseDuration(env.GetEnv("PAYMENTS_PROCESSING_EXPIRY", "")); err == nil && v > 0 {
		cfg.ProcessingExpiry = v
	}
	return cfg
}
