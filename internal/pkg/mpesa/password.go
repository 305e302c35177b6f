package mpesa

import (
	"encoding/base64"
	"strings"
	"time"
)

const timestampLayout = "20060102150405"

var nairobi = loadNairobi()

func loadNairobi() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

// Timestamp formats t as YYYYMMDDHHMMSS in Nairobi local time.
func Timestamp(t time.Time) string {
	return t.In(nairobi).Format(timestampLayout)
}

// ParseTimestamp parses a gateway YYYYMMDDHHMMSS timestamp in Nairobi time.
func ParseTimestamp(raw string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, strings.TrimSpace(raw), nairobi)
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// NormalizePhone converts local Kenyan formats to 2547XXXXXXXX.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case len(digits) == 9 && (digits[0] == '7' || digits[0] == '1'):
		return "254" + digits
	}
	return digits
}
