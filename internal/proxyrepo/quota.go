package proxyrepo

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Quota is the vendor's extraction-quota response. Its numeric fields are
// tolerant of arriving as either a JSON number or a JSON string — the
// upstream vendor is inconsistent about it.
type Quota struct {
	ExpiresAt        string         `json:"expires_at"`
	ConnectRemaining flexibleInt    `json:"connect_remaining"`
	ExtractRemaining flexibleInt    `json:"extract_remaining"`
	ProductRemaining flexibleInt    `json:"product_remaining"`
	Available        bool           `json:"available"`
}

// flexibleInt unmarshals from either a JSON number or a JSON string
// containing digits.
type flexibleInt int64

func (f *flexibleInt) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexibleInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("flexibleInt: neither number nor string: %s", b)
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("flexibleInt: %q not numeric: %w", s, err)
	}
	*f = flexibleInt(n)
	return nil
}

// ParseQuota decodes a vendor quota response body.
func ParseQuota(body []byte) (Quota, error) {
	var q Quota
	if err := json.Unmarshal(body, &q); err != nil {
		return Quota{}, fmt.Errorf("proxyrepo: parse quota: %w", err)
	}
	return q, nil
}

// RefreshAllowed reports whether a bulk refresh may proceed against this
// quota: available must be true and extract_remaining non-zero.
func (q Quota) RefreshAllowed() bool {
	return q.Available && q.ExtractRemaining > 0
}
