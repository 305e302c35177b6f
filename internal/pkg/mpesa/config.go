package mpesa

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/carboncube/tierpay/internal/pkg/env"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	// Public Daraja sandbox credentials.
	sandboxShortCode = "174379"
	sandboxPasskey   = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"
)

// Config holds everything the client needs to talk to Daraja. It is built
// once at startup and passed to NewClient.
type Config struct {
	Environment    string
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// ConfigFromEnv reads the MPESA_* variables. Sandbox defaults apply unless
// MPESA_ENV is "production".
func ConfigFromEnv() Config {
	cfg := Config{
		Environment:    strings.ToLower(strings.TrimSpace(env.GetEnv("MPESA_ENV", EnvironmentSandbox))),
		ConsumerKey:    strings.TrimSpace(env.GetEnv("MPESA_CONSUMER_KEY", "")),
		ConsumerSecret: strings.TrimSpace(env.GetEnv("MPESA_CONSUMER_SECRET", "")),
		Timeout:        15 * time.Second,
	}
	if secs, err := strconv.Atoi(env.GetEnv("MPESA_TIMEOUT_SECONDS", "")); err == nil && secs > 0 {
		cfg.Timeout = time.Duration(secs) * time.Second
	}

	if cfg.Environment == EnvironmentProduction {
		cfg.BaseURL = env.GetEnv("MPESA_BASE_URL", productionBaseURL)
		cfg.ShortCode = strings.TrimSpace(env.GetEnv("MPESA_BUSINESS_SHORT_CODE", ""))
		cfg.Passkey = strings.TrimSpace(env.GetEnv("MPESA_PASSKEY", ""))
		cfg.CallbackURL = strings.TrimSpace(env.GetEnv("MPESA_CALLBACK_URL", ""))
		return cfg
	}

	cfg.Environment = EnvironmentSandbox
	cfg.BaseURL = env.GetEnv("MPESA_BASE_URL", sandboxBaseURL)
	cfg.ShortCode = env.GetEnv("MPESA_BUSINESS_SHORT_CODE", sandboxShortCode)
	cfg.Passkey = env.GetEnv("MPESA_PASSKEY", sandboxPasskey)
	cfg.CallbackURL = env.GetEnv("MPESA_CALLBACK_URL", "http://localhost:4000/payments/stk_callback")
	return cfg
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return errors.New("MPESA_BASE_URL is not configured")
	case c.ConsumerKey == "" || c.ConsumerSecret == "":
		return errors.New("MPESA_CONSUMER_KEY/MPESA_CONSUMER_SECRET are not configured")
	case c.ShortCode == "":
		return errors.New("MPESA_BUSINESS_SHORT_CODE is not configured")
	case c.Passkey == "":
		return errors.New("MPESA_PASSKEY is not configured")
	case c.CallbackURL == "":
		return errors.New("MPESA_CALLBACK_URL is not configured")
	}
	return nil
}
