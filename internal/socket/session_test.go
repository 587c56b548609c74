package socket

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drsoft-oss/numbercheck/internal/numstream"
	"github.com/drsoft-oss/numbercheck/internal/proxypool"
	"github.com/drsoft-oss/numbercheck/internal/siteadapter"
)

// stubAdapter answers with a fixed classification, ignoring the response
// body entirely — the session's dial/handshake plumbing is under test
// here, not any particular site's body-parsing logic (siteadapter has its
// own tests for that).
type stubAdapter struct {
	statusToOutcome map[int]siteadapter.Outcome
}

func (s *stubAdapter) Hostname() string { return "example.test" }

func (s *stubAdapter) PrepareRequest(number string, useProxyAuthHeader bool, proxyUser, proxyPass string) siteadapter.Request {
	path := "/check/" + number
	if useProxyAuthHeader {
		path = "/authed/" + number
	}
	return siteadapter.Request{Method: "GET", Path: path, Headers: map[string]string{"Host": "example.test"}}
}

func (s *stubAdapter) Classify(resp siteadapter.Response) siteadapter.Outcome {
	if o, ok := s.statusToOutcome[resp.StatusCode]; ok {
		return o
	}
	return siteadapter.Outcome{Classification: siteadapter.Unknown}
}

// rawHTTPServer is a minimal, hand-rolled listener that reads one
// request-line-and-headers per connection and answers with the status
// code the handler picks — used instead of httptest.Server because the
// session writes an absolute-form request line, which net/http/httptest's
// client-facing plumbing isn't set up to originate directly over a plain
// Dial.
func rawHTTPServer(t *testing.T, handler func(requestLine string) (status int, body string)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				for {
					h, err := r.ReadString('\n')
					if err != nil || h == "\r\n" {
						break
					}
				}
				status, body := handler(strings.TrimSpace(line))
				fmt.Fprintf(c, "HTTP/1.1 %d X\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", status, len(body), body)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

type fakeRepoSingle struct {
	mu    sync.Mutex
	proxy *proxypool.Proxy
	calls int
}

func (f *fakeRepoSingle) NextEndpoint(ctx context.Context) (*proxypool.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.proxy == nil || f.proxy.Property() != proxypool.Active {
		return nil, ErrNoProxy
	}
	return f.proxy, nil
}

var ErrNoProxy = fmt.Errorf("socket_test: no proxy")

func TestSession_HappyPath(t *testing.T) {
	addr := rawHTTPServer(t, func(line string) (int, string) {
		if strings.Contains(line, "/check/13800000002") {
			return 200, "ok"
		}
		return 404, "nf"
	})
	host, portStr, _ := net.SplitHostPort(addr)
	port := mustAtoi(portStr)
	_ = host

	proxy := &proxypool.Proxy{Host: host, Port: port}
	repo := &fakeRepoSingle{proxy: proxy}
	stream := numstream.New(strings.NewReader("13800000002\n"))

	var results []Result
	var mu sync.Mutex
	sess := &Session{
		Transport: PlainTransport{},
		Handshake: NoHandshake{},
		Adapter: &stubAdapter{statusToOutcome: map[int]siteadapter.Outcome{
			200: {Classification: siteadapter.Registered},
		}},
		Stream: stream,
		Repo:   repo,
		OnResult: func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Outcome.Classification != siteadapter.Registered {
		t.Fatalf("Classification = %v, want Registered", results[0].Outcome.Classification)
	}
}

func TestSession_BlockedRotatesToNextProxy(t *testing.T) {
	addr := rawHTTPServer(t, func(line string) (int, string) { return 302, "" })
	host, portStr, _ := net.SplitHostPort(addr)
	port := mustAtoi(portStr)

	blocked := &proxypool.Proxy{Host: host, Port: port}
	repo := &fakeRepoSingle{proxy: blocked}
	stream := numstream.New(strings.NewReader("13800000001\n"))

	sess := &Session{
		Transport: PlainTransport{},
		Handshake: NoHandshake{},
		Adapter: &stubAdapter{statusToOutcome: map[int]siteadapter.Outcome{
			302: {Blocked: true},
		}},
		Stream: stream,
		Repo:   repo,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess.Run(ctx)

	if blocked.Property() != proxypool.Blocked {
		t.Fatalf("proxy property = %v, want Blocked", blocked.Property())
	}
	repo.mu.Lock()
	calls := repo.calls
	repo.mu.Unlock()
	if calls < 2 {
		t.Fatalf("NextEndpoint calls = %d, want at least 2 (rotation after Blocked)", calls)
	}
}

func TestSession_DrainedProxyEmitsRequestStopAndPushesBack(t *testing.T) {
	repo := &fakeRepoSingle{proxy: nil}
	stream := numstream.New(strings.NewReader("13800000003\n"))

	var results []Result
	sess := &Session{
		Transport: PlainTransport{},
		Handshake: NoHandshake{},
		Adapter:   &stubAdapter{},
		Stream:    stream,
		Repo:      repo,
		OnResult:  func(r Result) { results = append(results, r) },
	}

	sess.Run(context.Background())

	if len(results) != 1 || results[0].Outcome.Classification != siteadapter.RequestStop {
		t.Fatalf("results = %+v, want one RequestStop", results)
	}
	if stream.Empty() {
		t.Fatalf("expected the number to have been pushed back, stream reports empty")
	}
}

func mustAtoi(s string) int {
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}
