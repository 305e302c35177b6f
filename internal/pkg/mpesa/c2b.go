package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ResultCodeInvalidAccount rejects a C2B validation for an unknown account.
const ResultCodeInvalidAccount = "C2B00012"

// C2BPayload is a paybill validation or confirmation request.
type C2BPayload struct {
	TransactionType   string          `json:"TransactionType"`
	TransID           string          `json:"TransID"`
	TransTime         string          `json:"TransTime"`
	TransAmount       decimal.Decimal `json:"TransAmount"`
	BusinessShortCode string          `json:"BusinessShortCode"`
	BillRefNumber     string          `json:"BillRefNumber"`
	InvoiceNumber     string          `json:"InvoiceNumber"`
	OrgAccountBalance string          `json:"OrgAccountBalance"`
	ThirdPartyTransID string          `json:"ThirdPartyTransID"`
	MSISDN            string          `json:"MSISDN"`
	FirstName         string          `json:"FirstName"`
	MiddleName        string          `json:"MiddleName"`
	LastName          string          `json:"LastName"`
}

// ParseC2BPayload decodes a C2B webhook body.
func ParseC2BPayload(payload []byte) (*C2BPayload, error) {
	var out C2BPayload
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode c2b payload: %w", err)
	}
	out.TransID = strings.TrimSpace(out.TransID)
	out.BillRefNumber = strings.TrimSpace(out.BillRefNumber)
	if out.TransID == "" {
		return nil, errors.New("c2b payload has no TransID")
	}
	return &out, nil
}

var tierRefPattern = regexp.MustCompile(`^TIER(\d+)_(\d+)$`)

// ParseTierReference splits a "TIER{tier}_{seller}" account reference.
func ParseTierReference(ref string) (tierID, sellerID uint, ok bool) {
	m := tierRefPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(ref)))
	if m == nil {
		return 0, 0, false
	}
	t, err1 := strconv.ParseUint(m[1], 10, 64)
	s, err2 := strconv.ParseUint(m[2], 10, 64)
	if err1 != nil || err2 != nil || t == 0 || s == 0 {
		return 0, 0, false
	}
	return uint(t), uint(s), true
}

// TierReference builds the account reference for a seller and tier.
func TierReference(tierID, sellerID uint) string {
	return fmt.Sprintf("TIER%d_%d", tierID, sellerID)
}

// IsTierReference reports whether ref uses the structured tier format.
func IsTierReference(ref string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(ref)), "TIER")
}

// C2BResponse answers validation and confirmation webhooks.
type C2BResponse struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func C2BAccepted() C2BResponse {
	return C2BResponse{ResultCode: "0", ResultDesc: "Accepted"}
}

func C2BRejectedInvalidAccount() C2BResponse {
	return C2BResponse{ResultCode: ResultCodeInvalidAccount, ResultDesc: "Invalid Account Number"}
}

func C2BConfirmed() C2BResponse {
	return C2BResponse{ResultCode: "0", ResultDesc: "Success"}
}
