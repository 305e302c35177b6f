package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	tokenRefreshMargin = time.Minute
	tokenCacheKey      = "mpesa:access_token"
)

// APIError is returned when the gateway rejects a request. Message is the
// gateway's own text.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// TokenStore shares access tokens between instances.
type TokenStore interface {
	GetToken(ctx context.Context, key string) (string, error)
	SetToken(ctx context.Context, key, token string, ttl time.Duration) error
}

type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenStore enables a shared access token cache.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) { c.store = store }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client talks to the Daraja STK push API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	store      TokenStore
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a gateway client from an explicit configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShortCode returns the business short code payments are made to.
func (c *Client) ShortCode() string {
	return c.cfg.ShortCode
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken returns a cached OAuth token or fetches a new one.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.store != nil {
		if token, err := c.store.GetToken(ctx, tokenCacheKey); err == nil && token != "" {
			c.token = token
			c.tokenExpiry = now.Add(tokenRefreshMargin)
			return token, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+tokenPath, nil)
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		log.Errorf("[Mpesa] Failed to retrieve access token: status=%d body=%s", status, string(body))
		return "", &APIError{StatusCode: status, Message: "Failed to get access token"}
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("mpesa token response returned empty access_token")
	}

	ttl := 3599 * time.Second
	if secs, err := time.ParseDuration(strings.TrimSpace(out.ExpiresIn) + "s"); err == nil && secs > 0 {
		ttl = secs
	}
	if ttl > tokenRefreshMargin {
		ttl -= tokenRefreshMargin
	}
	c.token = out.AccessToken
	c.tokenExpiry = now.Add(ttl)
	if c.store != nil {
		if err := c.store.SetToken(ctx, tokenCacheKey, out.AccessToken, ttl); err != nil {
			log.Warnf("[Mpesa] Could not share access token: %v", err)
		}
	}
	log.Info("[Mpesa] Access token retrieved")
	return c.token, nil
}

// PushRequest asks the payer's phone for a PIN-confirmed payment.
type PushRequest struct {
	Phone       string
	Amount      decimal.Decimal
	AccountRef  string
	Description string
}

// PushResult is the gateway acknowledgment of a push request.
type PushResult struct {
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type gatewayError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Push sends an STK push. A rejection is returned as *APIError.
func (c *Client) Push(ctx context.Context, in PushRequest) (*PushResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(c.now())
	phone := NormalizePhone(in.Phone)
	payload := pushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            in.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  in.AccountRef,
		TransactionDesc:   in.Description,
	}

	body, status, err := c.postJSON(ctx, pushPath, token, payload)
	if err != nil {
		return nil, err
	}
	log.Infof("[Mpesa] STK push response: status=%d ref=%s", status, in.AccountRef)
	if status != http.StatusOK {
		return nil, errorFromBody(status, body)
	}

	var out PushResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode stk push response: %w", err)
	}
	if out.ResponseCode != "0" {
		msg := out.ResponseDescription
		if msg == "" {
			msg = "STK Push failed"
		}
		return nil, &APIError{StatusCode: status, Code: out.ResponseCode, Message: msg}
	}
	return &out, nil
}

// StatusResult is the outcome of an STK push status query.
type StatusResult struct {
	ResultCode        string
	ResultDesc        string
	CheckoutRequestID string
	MerchantRequestID string
}

type statusPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type statusResponse struct {
	ResultCode        flexString `json:"ResultCode"`
	ResultDesc        string     `json:"ResultDesc"`
	CheckoutRequestID string     `json:"CheckoutRequestID"`
	MerchantRequestID string     `json:"MerchantRequestID"`
}

// QueryStatus asks the gateway for the result of an earlier push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	if strings.TrimSpace(checkoutRequestID) == "" {
		return nil, errors.New("checkout request id is required")
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(c.now())
	body, status, err := c.postJSON(ctx, queryPath, token, statusPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errorFromBody(status, body)
	}

	var out statusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode stk query response: %w", err)
	}
	return &StatusResult{
		ResultCode:        string(out.ResultCode),
		ResultDesc:        out.ResultDesc,
		CheckoutRequestID: out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload any) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func errorFromBody(status int, body []byte) *APIError {
	var ge gatewayError
	if err := json.Unmarshal(body, &ge); err == nil && ge.ErrorMessage != "" {
		return &APIError{StatusCode: status, Code: ge.ErrorCode, Message: ge.ErrorMessage}
	}
	return &APIError{StatusCode: status, Message: fmt.Sprintf("HTTP Error: %d", status)}
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
