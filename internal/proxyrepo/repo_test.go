package proxyrepo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/drsoft-oss/numbercheck/internal/proxypool"
)

type fakeVendor struct {
	quota       Quota
	quotaErr    error
	extractBody []byte
	extractErr  error
	fetchCalls  int
}

func (f *fakeVendor) FetchQuota(ctx context.Context) (Quota, error) {
	return f.quota, f.quotaErr
}

func (f *fakeVendor) FetchProxies(ctx context.Context, count int) ([]byte, error) {
	f.fetchCalls++
	return f.extractBody, f.extractErr
}

func newTestRepo(t *testing.T, cfg Config, v Vendor, hub *Hub) *Repository {
	t.Helper()
	if cfg.PersistPath == "" {
		cfg.PersistPath = filepath.Join(t.TempDir(), "proxies.txt")
	}
	r, err := New(cfg, v, hub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestNextEndpoint_RoundRobinSkipsNonActive(t *testing.T) {
	v := &fakeVendor{}
	r := newTestRepo(t, Config{MinutesAllowed: time.Hour}, v, nil)

	a := &proxypool.Proxy{Host: "1.1.1.1", Port: 1}
	b := &proxypool.Proxy{Host: "2.2.2.2", Port: 2}
	b.SetProperty(proxypool.Blocked)
	c := &proxypool.Proxy{Host: "3.3.3.3", Port: 3}
	r.Pool().Append(a, b, c)

	first, err := r.NextEndpoint(context.Background())
	if err != nil || first.Addr() != a.Addr() {
		t.Fatalf("first = %v, %v", first, err)
	}
	second, err := r.NextEndpoint(context.Background())
	if err != nil || second.Addr() != c.Addr() {
		t.Fatalf("second = %v, %v, want %s (skip blocked)", second, err, c.Addr())
	}
}

func TestNextEndpoint_DrainedTriggersRefreshThenErrDrained(t *testing.T) {
	v := &fakeVendor{extractBody: []byte("")}
	r := newTestRepo(t, Config{MinutesAllowed: time.Hour}, v, nil)

	_, err := r.NextEndpoint(context.Background())
	if err != ErrDrained {
		t.Fatalf("err = %v, want ErrDrained", err)
	}
	if v.fetchCalls != 1 {
		t.Fatalf("fetchCalls = %d, want 1", v.fetchCalls)
	}
}

func TestNextEndpoint_RefreshRescuesDrainedPool(t *testing.T) {
	v := &fakeVendor{extractBody: []byte("9.9.9.9:1080 u p\n")}
	r := newTestRepo(t, Config{MinutesAllowed: time.Hour}, v, nil)

	p, err := r.NextEndpoint(context.Background())
	if err != nil {
		t.Fatalf("NextEndpoint: %v", err)
	}
	if p.Addr() != "9.9.9.9:1080" {
		t.Fatalf("got %s, want the refreshed proxy", p.Addr())
	}
}

func TestGetMoreProxies_RefusedByQuota(t *testing.T) {
	v := &fakeVendor{quota: Quota{Available: false}}
	r := newTestRepo(t, Config{MinutesAllowed: time.Hour, CheckQuota: true}, v, nil)

	if err := r.GetMoreProxies(context.Background()); err == nil {
		t.Fatal("expected refusal error when quota unavailable")
	}
	if v.fetchCalls != 0 {
		t.Fatalf("fetchCalls = %d, want 0 (should not extract after quota refusal)", v.fetchCalls)
	}
}

func TestGetMoreProxies_RateLimited(t *testing.T) {
	v := &fakeVendor{extractBody: []byte("1.1.1.1:1 u p\n")}
	r := newTestRepo(t, Config{MinutesAllowed: time.Hour}, v, nil)

	if err := r.GetMoreProxies(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if err := r.GetMoreProxies(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if v.fetchCalls != 1 {
		t.Fatalf("fetchCalls = %d, want 1 (rate limited)", v.fetchCalls)
	}
}

func TestAddMore_BroadcastFilter(t *testing.T) {
	v := &fakeVendor{}
	r := newTestRepo(t, Config{ThreadID: 1, SiteID: 1, Protocol: SOCKS5, MinutesAllowed: time.Hour}, v, nil)

	fresh := []*proxypool.Proxy{{Host: "1.2.3.4", Port: 80}}

	r.AddMore(Batch{ThreadID: 1, SiteID: 2, Protocol: SOCKS5, Proxies: fresh}) // same thread -> rejected
	if r.Pool().Len() != 0 {
		t.Fatalf("same thread id should be rejected, got len %d", r.Pool().Len())
	}

	r.AddMore(Batch{ThreadID: 2, SiteID: 1, Protocol: SOCKS5, Proxies: fresh}) // same site -> rejected
	if r.Pool().Len() != 0 {
		t.Fatalf("same site id should be rejected, got len %d", r.Pool().Len())
	}

	r.AddMore(Batch{ThreadID: 2, SiteID: 2, Protocol: HTTPConnect, Proxies: fresh}) // wrong protocol
	if r.Pool().Len() != 0 {
		t.Fatalf("mismatched protocol should be rejected, got len %d", r.Pool().Len())
	}

	r.AddMore(Batch{ThreadID: 2, SiteID: 2, Protocol: SOCKS5, Proxies: fresh}) // accepted
	if r.Pool().Len() != 1 {
		t.Fatalf("expected batch accepted, got len %d", r.Pool().Len())
	}
}

func TestBroadcastSharing_AcrossRepositories(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close) // registered first, so it runs after the repositories' Close

	v1 := &fakeVendor{extractBody: []byte("1.1.1.1:1 u p\n2.2.2.2:2 u p\n")}
	v2 := &fakeVendor{}

	r1 := newTestRepo(t, Config{ThreadID: 1, SiteID: 1, Protocol: SOCKS5, Share: true, MinutesAllowed: time.Hour}, v1, hub)
	r2 := newTestRepo(t, Config{ThreadID: 2, SiteID: 2, Protocol: SOCKS5, Share: true, MinutesAllowed: time.Hour}, v2, hub)

	if err := r1.GetMoreProxies(context.Background()); err != nil {
		t.Fatalf("GetMoreProxies: %v", err)
	}

	deadline := time.After(time.Second)
	for r2.Pool().Len() < 2 {
		select {
		case <-deadline:
			t.Fatalf("r2 pool never grew, len=%d", r2.Pool().Len())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBroadcastSharing_SameSiteIDNotShared(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close) // registered first, so it runs after the repositories' Close

	v1 := &fakeVendor{extractBody: []byte("1.1.1.1:1 u p\n")}
	v2 := &fakeVendor{}

	r1 := newTestRepo(t, Config{ThreadID: 1, SiteID: 1, Protocol: SOCKS5, Share: true, MinutesAllowed: time.Hour}, v1, hub)
	r2 := newTestRepo(t, Config{ThreadID: 2, SiteID: 1, Protocol: SOCKS5, Share: true, MinutesAllowed: time.Hour}, v2, hub)

	if err := r1.GetMoreProxies(context.Background()); err != nil {
		t.Fatalf("GetMoreProxies: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if r2.Pool().Len() != 0 {
		t.Fatalf("same site id must not receive shared batch, got len %d", r2.Pool().Len())
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	v := &fakeVendor{extractBody: []byte("1.1.1.1:1080 u p\n")}
	r := newTestRepo(t, Config{PersistPath: path, MinutesAllowed: time.Hour}, v, nil)

	if err := r.GetMoreProxies(context.Background()); err != nil {
		t.Fatalf("GetMoreProxies: %v", err)
	}

	reloaded, err := proxypool.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("reloaded Len() = %d, want 1", reloaded.Len())
	}
}
