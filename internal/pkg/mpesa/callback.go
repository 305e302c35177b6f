package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// STKCallback is the normalised STK push result. Metadata fields are nil
// when the gateway omitted them.
type STKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     *string
	Amount            *decimal.Decimal
	PhoneNumber       *string
	TransactionDate   *time.Time
}

// Succeeded reports whether the payer completed the payment.
func (c *STKCallback) Succeeded() bool {
	return c.ResultCode == 0
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

type callbackEnvelope struct {
	Body struct {
		STKCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback decodes the Body.stkCallback envelope.
func ParseSTKCallback(payload []byte) (*STKCallback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode stk callback: %w", err)
	}
	raw := env.Body.STKCallback
	if raw == nil {
		return nil, errors.New("stk callback body is missing")
	}
	if strings.TrimSpace(raw.CheckoutRequestID) == "" {
		return nil, errors.New("stk callback has no CheckoutRequestID")
	}

	out := &STKCallback{
		MerchantRequestID: raw.MerchantRequestID,
		CheckoutRequestID: raw.CheckoutRequestID,
		ResultCode:        raw.ResultCode,
		ResultDesc:        raw.ResultDesc,
	}
	if raw.CallbackMetadata == nil {
		return out, nil
	}
	for _, item := range raw.CallbackMetadata.Item {
		value, ok := itemString(item.Value)
		if !ok {
			continue
		}
		switch item.Name {
		case "MpesaReceiptNumber":
			out.ReceiptNumber = &value
		case "Amount":
			if d, err := decimal.NewFromString(value); err == nil {
				out.Amount = &d
			}
		case "PhoneNumber":
			out.PhoneNumber = &value
		case "TransactionDate":
			if t, err := ParseTimestamp(value); err == nil {
				out.TransactionDate = &t
			}
		}
	}
	return out, nil
}

func itemString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	}
	return "", false
}

// CallbackAck is the body the gateway expects after a callback.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Ack acknowledges a callback so the gateway stops retrying.
func Ack() CallbackAck {
	return CallbackAck{ResultCode: 0, ResultDesc: "Success"}
}
