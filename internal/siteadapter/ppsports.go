package siteadapter

import (
	"encoding/json"
	"fmt"
)

// ppSportsBlockedPhrases are the body substrings that mean the target has
// flagged the current proxy, independent of status code.
var ppSportsBlockedPhrases = []string{
	"%E8%AE%BF%E9%97%AE%E8%BF%87%E4%BA%8E%E9%A2%91%E7%B9%81", // "access too frequent"
}

// PPSports is the adapter for the PP Sports login-check endpoint: a plain
// GET carrying the number in the query string, answered with a small JSON
// body.
type PPSports struct {
	host string
}

// NewPPSports returns an adapter bound to host (the bare site hostname).
func NewPPSports(host string) *PPSports {
	return &PPSports{host: host}
}

func (p *PPSports) Hostname() string { return p.host }

func (p *PPSports) PrepareRequest(number string, useProxyAuthHeader bool, proxyUser, proxyPass string) Request {
	req := Request{
		Method: "GET",
		Path:   fmt.Sprintf("/checkLogin?account=%s", number),
		Headers: map[string]string{
			"Host":       p.host,
			"User-Agent": UserAgentFor(len(number)),
		},
		Close: false,
	}
	if useProxyAuthHeader {
		req.Headers["Proxy-Authorization"] = BasicAuthHeader(proxyUser, proxyPass)
	}
	return req
}

type ppSportsBody struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

func (p *PPSports) Classify(resp Response) Outcome {
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode <= 308:
		return Outcome{Blocked: true}
	case resp.StatusCode == 407:
		return Outcome{NeedsAuth: true}
	}

	body := string(resp.Body)
	if ContainsAny(body, ppSportsBlockedPhrases) {
		return Outcome{Blocked: true}
	}

	var parsed ppSportsBody
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		if extracted, ok := extractJSONObject(resp.Body); ok {
			if err2 := json.Unmarshal(extracted, &parsed); err2 != nil {
				return Outcome{Classification: Unknown}
			}
		} else {
			return Outcome{Classification: Unknown}
		}
	}

	switch parsed.Msg {
	case "Msg.MobileExist":
		return Outcome{Classification: NotRegistered}
	case "Msg.MobileSuccess":
		return Outcome{Classification: Registered}
	default:
		return Outcome{Classification: Unknown}
	}
}

// extractJSONObject finds the last top-level {...} substring in body and
// returns it, for the "tolerant parse" fallback every adapter shares: some
// responses wrap the JSON payload in surrounding HTML or JSONP.
func extractJSONObject(body []byte) ([]byte, bool) {
	start, end := -1, -1
	depth := 0
	for i, b := range body {
		switch b {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				end = i + 1
			}
		}
	}
	if start >= 0 && end > start {
		return body[start:end], true
	}
	return nil, false
}
