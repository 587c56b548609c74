// Package socket drives one number at a time through connect → (SOCKS5
// handshake | TLS handshake) → HTTP request → response classification →
// next-number, against a single proxy repository and site adapter.
//
// The state machine is a single concrete driver parameterised over three
// trait implementations (Transport, ProxyHandshake, siteadapter.Adapter)
// rather than a class hierarchy per protocol combination.
package socket

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/drsoft-oss/numbercheck/internal/numstream"
	"github.com/drsoft-oss/numbercheck/internal/proxypool"
	"github.com/drsoft-oss/numbercheck/internal/siteadapter"
)

// MaxRetries bounds connect, send, and each SOCKS5 handshake phase
// independently.
const MaxRetries = 2

// Timeouts, matched to the per-phase budgets.
const (
	ConnectTimeout = 3000 * time.Millisecond
	TLSTimeout     = 20000 * time.Millisecond
	SendTimeout    = 9000 * time.Millisecond
	ReceiveTimeout = 12000 * time.Millisecond
)

// ProxySource is the subset of proxyrepo.Repository the session depends
// on; kept narrow and local so the socket package never imports
// proxyrepo, avoiding an import cycle with executor wiring both.
type ProxySource interface {
	NextEndpoint(ctx context.Context) (*proxypool.Proxy, error)
}

// targetPort returns the port the SOCKS5 CONNECT request names for the
// target site: 443 when the Transport is a TLSTransport, 80 otherwise
// (the plain-HTTP adapters, WatchHome and PPSports).
func targetPort(t Transport) int {
	if _, ok := t.(TLSTransport); ok {
		return 443
	}
	return 80
}

// Result is what a session reports for one number, via the Callback.
type Result struct {
	Number         string
	Outcome        siteadapter.Outcome
	ProxyRotated   bool
	ProxyUsed      string
}

// Callback receives one Result per completed number (including
// RequestStop, which is terminal for the whole session).
type Callback func(Result)

// Session is one socket session: it pulls numbers from stream until
// Empty or cancellation, running each through the connect/handshake/send
// state machine below.
type Session struct {
	Transport Transport
	Handshake ProxyHandshake
	Adapter   siteadapter.Adapter
	Stream    *numstream.Stream
	Repo      ProxySource
	OnResult  Callback

	proxy *proxypool.Proxy
	conn  net.Conn
}

// Run drains the number stream until Empty or ctx is cancelled. On
// cancellation the in-flight number is pushed back before returning, per
// the "any state, stopped flag set" transition.
func (s *Session) Run(ctx context.Context) {
	defer s.closeConn()
	for {
		if ctx.Err() != nil {
			return
		}
		number, err := s.Stream.Next()
		if err == numstream.ErrEmpty {
			return
		}
		if s.processOne(ctx, number) {
			return
		}
	}
}

// processOne drives one number through the full state machine. It returns
// true when the session must stop entirely (cancellation or RequestStop).
func (s *Session) processOne(ctx context.Context, number string) (terminal bool) {
	var (
		connectRetries int
		sendRetries    int
		greetRetries   int
		connectSKRetr  int
		useAuth        bool
	)

	for {
		if ctx.Err() != nil {
			s.Stream.PushBack(number)
			return true
		}

		// ChoosingProxy: acquire an endpoint if we don't have one.
		if s.proxy == nil {
			p, err := s.Repo.NextEndpoint(ctx)
			if err != nil {
				s.Stream.PushBack(number)
				s.emit(number, siteadapter.Outcome{Classification: siteadapter.RequestStop}, "")
				return true
			}
			s.proxy = p
		}

		// Connecting.
		conn, err := s.dial(ctx)
		if err != nil {
			connectRetries++
			if connectRetries > MaxRetries {
				log.Printf("[socket] connect exhausted retries on %s: %v", s.proxy.Addr(), err)
				s.rotateUnresponsive()
				connectRetries = 0
				continue
			}
			continue
		}
		s.conn = conn

		// Socks5Greeting / Socks5Connect (no-ops for NoHandshake).
		if err := s.Handshake.Greet(ctx, conn); err != nil {
			greetRetries++
			s.closeConn()
			if greetRetries > MaxRetries {
				log.Printf("[socket] socks5 greeting exhausted retries on %s: %v", s.proxy.Addr(), err)
				s.rotateUnresponsive()
				greetRetries = 0
			}
			continue
		}
		port := targetPort(s.Transport)
		if err := s.Handshake.Connect(ctx, conn, s.Adapter.Hostname(), port); err != nil {
			connectSKRetr++
			s.closeConn()
			if connectSKRetr > MaxRetries {
				log.Printf("[socket] socks5 connect exhausted retries on %s: %v", s.proxy.Addr(), err)
				s.rotateUnresponsive()
				connectSKRetr = 0
			}
			continue
		}

		// TlsHandshake.
		upgraded, err := s.Transport.Upgrade(ctx, conn, s.Adapter.Hostname(), TLSTimeout)
		if err != nil {
			s.closeConn()
			connectRetries++
			if connectRetries > MaxRetries {
				log.Printf("[socket] tls handshake exhausted retries on %s: %v", s.proxy.Addr(), err)
				s.rotateUnresponsive()
				connectRetries = 0
			}
			continue
		}
		s.conn = upgraded

		// Sending / Receiving.
		resp, err := s.sendAndReceive(number, useAuth)
		if err != nil {
			s.closeConn()
			sendRetries++
			if sendRetries > MaxRetries {
				log.Printf("[socket] send exhausted retries on %s: %v", s.proxy.Addr(), err)
				s.rotateUnresponsive()
				sendRetries = 0
			}
			continue
		}
		s.closeConn()

		// Classifying.
		outcome := s.Adapter.Classify(resp)
		switch {
		case outcome.Retry:
			continue // e.g. AutoHome's cookie-acquisition leg: redo with the same proxy
		case outcome.NeedsAuth:
			useAuth = true
			continue // Classifying -407-> set auth header -> Connecting
		case outcome.Blocked:
			s.proxy.SetProperty(proxypool.Blocked)
			s.proxy = nil
			useAuth = false
			continue
		case outcome.ToldToWait:
			s.proxy.SetProperty(proxypool.ToldToWait)
			s.proxy = nil
			useAuth = false
			continue
		case outcome.Classification == siteadapter.RequestStop:
			s.Stream.PushBack(number)
			s.emit(number, outcome, s.proxy.Addr())
			return true
		default:
			s.emit(number, outcome, s.proxy.Addr())
			if vr, ok := s.Adapter.(interface{ VoluntaryRotate() bool }); ok && vr.VoluntaryRotate() {
				if reset, ok := s.Adapter.(interface{ ResetRotationCounter() }); ok {
					reset.ResetRotationCounter()
				}
				s.proxy = nil
			}
			return false
		}
	}
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	return s.Transport.Dial(dialCtx, s.proxy.Addr(), ConnectTimeout)
}

func (s *Session) rotateUnresponsive() {
	s.proxy.SetProperty(proxypool.Unresponsive)
	s.proxy = nil
}

func (s *Session) closeConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// sendAndReceive builds the adapter's request, writes it (as an absolute
// request line when Handshake is NoHandshake, host-relative otherwise),
// and reads back a full HTTP response within ReceiveTimeout.
func (s *Session) sendAndReceive(number string, useAuth bool) (siteadapter.Response, error) {
	var proxyUser, proxyPass string
	if useAuth {
		proxyUser, proxyPass = s.proxy.Username, s.proxy.Password
	}
	req := s.Adapter.PrepareRequest(number, useAuth, proxyUser, proxyPass)

	var buf bytes.Buffer
	target := req.Path
	if _, isNone := s.Handshake.(NoHandshake); isNone {
		scheme := "http"
		if _, isTLS := s.Transport.(TLSTransport); isTLS {
			scheme = "https"
		}
		target = fmt.Sprintf("%s://%s%s", scheme, s.Adapter.Hostname(), req.Path)
	}
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, target)
	for k, v := range req.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	if len(req.Body) > 0 {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(req.Body))
	}
	if req.Close {
		buf.WriteString("Connection: close\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(req.Body)

	s.conn.SetWriteDeadline(time.Now().Add(SendTimeout))
	if _, err := s.conn.Write(buf.Bytes()); err != nil {
		return siteadapter.Response{}, fmt.Errorf("socket: write request: %w", err)
	}
	s.conn.SetWriteDeadline(time.Time{})

	s.conn.SetReadDeadline(time.Now().Add(ReceiveTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	httpResp, err := http.ReadResponse(bufio.NewReader(s.conn), nil)
	if err != nil {
		return siteadapter.Response{}, fmt.Errorf("socket: read response: %w", err)
	}
	defer httpResp.Body.Close()

	body := make([]byte, 0, 4096)
	buf2 := make([]byte, 4096)
	for {
		n, rerr := httpResp.Body.Read(buf2)
		body = append(body, buf2[:n]...)
		if rerr != nil {
			break
		}
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}
	return siteadapter.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

func (s *Session) emit(number string, outcome siteadapter.Outcome, proxyUsed string) {
	if s.OnResult == nil {
		return
	}
	s.OnResult(Result{Number: number, Outcome: outcome, ProxyUsed: proxyUsed})
}
