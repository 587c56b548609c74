package siteadapter

import "fmt"

// WatchHome is the simplest adapter: a plain-HTTP GET classified purely on
// status code, no JSON body at all. Recovered from the original system's
// watch_home_http.hpp, which the distilled registration-checker spec
// dropped; it rounds out the adapter set with a status-only classifier
// alongside the three body-parsing ones.
type WatchHome struct {
	host string
}

// NewWatchHome returns an adapter bound to host.
func NewWatchHome(host string) *WatchHome {
	return &WatchHome{host: host}
}

func (w *WatchHome) Hostname() string { return w.host }

func (w *WatchHome) PrepareRequest(number string, useProxyAuthHeader bool, proxyUser, proxyPass string) Request {
	req := Request{
		Method: "GET",
		Path:   fmt.Sprintf("/user/exists/%s", number),
		Headers: map[string]string{
			"Host":       w.host,
			"User-Agent": UserAgentFor(len(number)),
		},
		Close: true,
	}
	if useProxyAuthHeader {
		req.Headers["Proxy-Authorization"] = BasicAuthHeader(proxyUser, proxyPass)
	}
	return req
}

func (w *WatchHome) Classify(resp Response) Outcome {
	switch {
	case resp.StatusCode == 200:
		return Outcome{Classification: NotRegistered}
	case resp.StatusCode == 404:
		return Outcome{Classification: Registered}
	case resp.StatusCode == 407:
		return Outcome{NeedsAuth: true}
	case resp.StatusCode >= 300 && resp.StatusCode <= 308:
		return Outcome{Blocked: true}
	default:
		return Outcome{Classification: Unknown}
	}
}
