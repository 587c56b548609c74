package siteadapter

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// jjGamesVoluntaryRotateAfter is the success count after which
// the adapter voluntarily asks the socket session to rotate proxies, even
// though nothing went wrong — spreading load across the pool rather than
// hammering one endpoint.
const jjGamesVoluntaryRotateAfter = 20

var jjGamesBlockedPhrases = []string{
	"%E8%AF%B7%E6%B1%82%E8%BF%87%E4%BA%8E%E9%A2%91%E7%B9%81", // "request too frequent"
}

// JJGames is the adapter for the JJ Games registration-check endpoint. It
// authenticates via a SOCKS5-proxied HTTPS connection and an MD5-hashed
// cookie, and counts successful classifications to trigger a voluntary
// rotation every 20 of them. The count belongs to the adapter, not to a
// proxy: every session sharing the adapter adds to it, and it is reset
// only by ResetRotationCounter, not when a proxy is rotated for another
// reason.
type JJGames struct {
	host   string
	secret string

	successCount atomic.Int64
}

// NewJJGames returns an adapter bound to host, using secret as the cookie
// hash salt.
func NewJJGames(host, secret string) *JJGames {
	return &JJGames{host: host, secret: secret}
}

func (j *JJGames) Hostname() string { return j.host }

func (j *JJGames) cookie(number string) string {
	sum := md5.Sum([]byte(number + j.secret))
	return hex.EncodeToString(sum[:])
}

func (j *JJGames) PrepareRequest(number string, useProxyAuthHeader bool, proxyUser, proxyPass string) Request {
	req := Request{
		Method: "GET",
		Path:   fmt.Sprintf("/reg/checkMobile?mobile=%s", number),
		Headers: map[string]string{
			"Host":       j.host,
			"User-Agent": UserAgentFor(int(j.successCount.Load())),
			"Cookie":     "jjid=" + j.cookie(number),
		},
	}
	if useProxyAuthHeader {
		req.Headers["Proxy-Authorization"] = BasicAuthHeader(proxyUser, proxyPass)
	}
	return req
}

type jjGamesBody struct {
	REV bool `json:"REV"`
}

// VoluntaryRotate reports whether the per-proxy success quota has been
// reached; the socket session checks this after every Classify call that
// did not already request a rotation for another reason, and resets the
// counter when it actually rotates.
func (j *JJGames) VoluntaryRotate() bool {
	return j.successCount.Load() >= jjGamesVoluntaryRotateAfter
}

// ResetRotationCounter is called by the socket session once it has acted
// on VoluntaryRotate() and switched proxies.
func (j *JJGames) ResetRotationCounter() {
	j.successCount.Store(0)
}

func (j *JJGames) Classify(resp Response) Outcome {
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode <= 308:
		return Outcome{Blocked: true}
	case resp.StatusCode == 407:
		return Outcome{NeedsAuth: true}
	}

	body := string(resp.Body)
	if ContainsAny(body, jjGamesBlockedPhrases) {
		return Outcome{Blocked: true}
	}

	var parsed jjGamesBody
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		if extracted, ok := extractJSONObject(resp.Body); ok {
			if err2 := json.Unmarshal(extracted, &parsed); err2 != nil {
				return Outcome{Classification: Unknown}
			}
		} else {
			return Outcome{Classification: Unknown}
		}
	}

	j.successCount.Add(1)
	if parsed.REV {
		return Outcome{Classification: NotRegistered}
	}
	return Outcome{Classification: Registered}
}
