package siteadapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// autoHomeMaxCookieFailures is how many failed cookie acquisitions in a
// row mark the current proxy Blocked rather than simply retrying the GET.
const autoHomeMaxCookieFailures = 5

// autoHomeMaxCookieReuse bounds how many POSTs reuse one session cookie
// before the adapter forces a fresh GET, matching the upstream session's
// own expiry window.
const autoHomeMaxCookieReuse = 300

// autoHomeSessionExpiredPhrase overlaps textually with the not-registered
// phrase in the upstream body; per design decision it is checked first so
// a session-expired response is never misclassified as NotRegistered.
const autoHomeSessionExpiredPhrase = "%E4%BC%9A%E8%AF%9D%E5%B7%B2%E8%BF%87%E6%9C%9F" // "session expired"

var autoHomeBlockedPhrases = []string{
	"%E9%AA%8C%E8%AF%81%E5%A4%B1%E8%B4%A5%E6%AC%A1%E6%95%B0%E8%BF%87%E5%A4%9A", // "too many failed verifications"
}

// AutoHome is the adapter for the AutoHome phone-check endpoint. It
// maintains a two-step session: an initial GET acquires a cookie
// (rsessionid=...), then up to autoHomeMaxCookieReuse POSTs reuse it. On a
// session-expired body the adapter clears the cookie and the next
// PrepareRequest call issues a fresh GET.
type AutoHome struct {
	host string

	mu             sync.Mutex
	sessionID      string
	postsOnSession int

	cookieFailures atomic.Int64
	awaitingCookie atomic.Bool
}

// NewAutoHome returns an adapter bound to host.
func NewAutoHome(host string) *AutoHome {
	return &AutoHome{host: host}
}

func (a *AutoHome) Hostname() string { return a.host }

func (a *AutoHome) needsCookie() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID == "" || a.postsOnSession >= autoHomeMaxCookieReuse
}

func (a *AutoHome) PrepareRequest(number string, useProxyAuthHeader bool, proxyUser, proxyPass string) Request {
	var req Request
	if a.needsCookie() {
		a.awaitingCookie.Store(true)
		req = Request{
			Method: "GET",
			Path:   "/account/session/new",
			Headers: map[string]string{
				"Host":       a.host,
				"User-Agent": UserAgentFor(int(a.cookieFailures.Load())),
			},
		}
	} else {
		a.awaitingCookie.Store(false)
		a.mu.Lock()
		cookie := a.sessionID
		a.postsOnSession++
		a.mu.Unlock()
		req = Request{
			Method: "POST",
			Path:   "/account/CheckPhone",
			Headers: map[string]string{
				"Host":         a.host,
				"User-Agent":   UserAgentFor(a.postsOnSession),
				"Content-Type": "application/x-www-form-urlencoded",
				"Cookie":       "rsessionid=" + cookie,
			},
			Body: []byte(fmt.Sprintf("phone=%s", number)),
		}
	}
	if useProxyAuthHeader {
		req.Headers["Proxy-Authorization"] = BasicAuthHeader(proxyUser, proxyPass)
	}
	return req
}

// SetSessionID records a newly acquired cookie value, called from
// classifyCookieResponse once it finds rsessionid in the GET's Set-Cookie
// header.
func (a *AutoHome) SetSessionID(id string) {
	a.mu.Lock()
	a.sessionID = id
	a.postsOnSession = 0
	a.mu.Unlock()
	a.cookieFailures.Store(0)
}

// CookieAcquisitionFailed records a failed GET and reports whether the
// adapter's failure budget (autoHomeMaxCookieFailures) is now exhausted —
// classifyCookieResponse turns that into Outcome.Blocked.
func (a *AutoHome) CookieAcquisitionFailed() bool {
	return a.cookieFailures.Add(1) >= autoHomeMaxCookieFailures
}

// classifyCookieResponse handles the response to the cookie-acquisition
// GET: a 3xx/407 is reported the same as for a real check, a Set-Cookie
// carrying rsessionid is captured via SetSessionID, and a response with
// neither is a failed acquisition counted against the failure budget —
// once that budget is exhausted the proxy is marked Blocked instead of
// retried forever.
func (a *AutoHome) classifyCookieResponse(resp Response) Outcome {
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode <= 308:
		return Outcome{Blocked: true}
	case resp.StatusCode == 407:
		return Outcome{NeedsAuth: true}
	}

	if cookie := extractCookieValue(resp.Headers, "rsessionid"); cookie != "" {
		a.SetSessionID(cookie)
		return Outcome{Retry: true}
	}

	if a.CookieAcquisitionFailed() {
		return Outcome{Blocked: true}
	}
	return Outcome{Retry: true}
}

// extractCookieValue pulls the named cookie's value out of a Set-Cookie
// header value, which may carry additional "; Attr=..." segments.
func extractCookieValue(headers map[string]string, name string) string {
	raw, ok := headers["Set-Cookie"]
	if !ok {
		return ""
	}
	prefix := name + "="
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, prefix) {
			return strings.TrimPrefix(part, prefix)
		}
	}
	return ""
}

type autoHomeBody struct {
	Msg struct {
		MobileExist   bool `json:"MobileExist"`
		MobileSuccess bool `json:"MobileSuccess"`
		MobileNotExist bool `json:"MobileNotExist"`
	} `json:"Msg"`
}

func (a *AutoHome) Classify(resp Response) Outcome {
	if a.awaitingCookie.Load() {
		return a.classifyCookieResponse(resp)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode <= 308:
		return Outcome{Blocked: true}
	case resp.StatusCode == 407:
		return Outcome{NeedsAuth: true}
	}

	body := string(resp.Body)
	if ContainsAny(body, []string{autoHomeSessionExpiredPhrase}) {
		a.mu.Lock()
		a.sessionID = ""
		a.postsOnSession = 0
		a.mu.Unlock()
		return Outcome{Classification: Unknown}
	}
	if ContainsAny(body, autoHomeBlockedPhrases) {
		return Outcome{Blocked: true}
	}

	var parsed autoHomeBody
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		if extracted, ok := extractJSONObject(resp.Body); ok {
			if err2 := json.Unmarshal(extracted, &parsed); err2 != nil {
				return Outcome{Classification: Unknown}
			}
		} else {
			return Outcome{Classification: Unknown}
		}
	}

	switch {
	case parsed.Msg.MobileSuccess:
		return Outcome{Classification: Registered}
	case parsed.Msg.MobileExist:
		return Outcome{Classification: Registered2}
	case parsed.Msg.MobileNotExist:
		return Outcome{Classification: NotRegistered}
	default:
		return Outcome{Classification: Unknown}
	}
}
