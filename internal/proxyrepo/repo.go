// Package proxyrepo implements the shared proxy repository: one instance
// per (worker thread, target site) pair. It fetches endpoints from an
// upstream vendor under a rate limit and a quota, shares newly fetched
// endpoints with sibling repositories over a broadcast hub, and hands out
// live endpoints in round-robin order, skipping dead entries.
package proxyrepo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/drsoft-oss/numbercheck/internal/proxypool"
)

// ErrDrained is returned by NextEndpoint when the pool has no Active
// entries even after a refresh attempt — the terminal "proxy provider is
// permanently drained" signal the socket session maps to RequestStop.
var ErrDrained = errors.New("proxyrepo: drained")

// MinutesAllowed is the default minimum spacing between successful
// refreshes.
const MinutesAllowed = 120 * time.Second

// Vendor abstracts the upstream proxy marketplace: a quota check and a
// bulk extract call. Concrete implementations talk HTTP; tests supply a
// fake.
type Vendor interface {
	FetchQuota(ctx context.Context) (Quota, error)
	FetchProxies(ctx context.Context, count int) ([]byte, error)
}

// HTTPVendor is the default Vendor, talking to fixed quota/extract URLs
// over plain HTTP. Operators who don't want the vendor relationship
// itself visible from the box's real address can route these calls
// through an UpstreamSOCKS5 proxy.
type HTTPVendor struct {
	QuotaURL   string
	ExtractURL string
	Client     *http.Client

	UpstreamSOCKS5 string      // "host:port", optional
	UpstreamAuth   *proxy.Auth // optional, only meaningful with UpstreamSOCKS5
}

func (v *HTTPVendor) httpClient() *http.Client {
	if v.Client != nil {
		return v.Client
	}
	if v.UpstreamSOCKS5 == "" {
		return http.DefaultClient
	}

	dialer, err := proxy.SOCKS5("tcp", v.UpstreamSOCKS5, v.UpstreamAuth, proxy.Direct)
	if err != nil {
		log.Printf("[proxyrepo] upstream socks5 dialer init failed, using direct: %v", err)
		v.Client = http.DefaultClient
		return v.Client
	}
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
	if cd, ok := dialer.(interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}); ok {
		dialContext = cd.DialContext
	}
	v.Client = &http.Client{Transport: &http.Transport{DialContext: dialContext}}
	return v.Client
}

func (v *HTTPVendor) FetchQuota(ctx context.Context) (Quota, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.QuotaURL, nil)
	if err != nil {
		return Quota{}, err
	}
	resp, err := v.httpClient().Do(req)
	if err != nil {
		return Quota{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quota{}, err
	}
	return ParseQuota(body)
}

func (v *HTTPVendor) FetchProxies(ctx context.Context, count int) ([]byte, error) {
	url := v.ExtractURL
	if count > 0 {
		url = fmt.Sprintf("%s?count=%d", v.ExtractURL, count)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Config parameterises one Repository instance.
type Config struct {
	ThreadID       int
	SiteID         int
	Protocol       Protocol
	PersistPath    string
	PerFetch       int
	MinutesAllowed time.Duration // 0 => MinutesAllowed
	Share          bool
	CheckQuota     bool
}

// Repository is the per-(thread,site) proxy provider.
type Repository struct {
	cfg    Config
	vendor Vendor
	hub    *Hub
	sub    chan Batch

	mu         sync.Mutex
	pool       *proxypool.Pool
	cursor     int
	lastFetch  time.Time
	refreshing bool

	stopSub chan struct{}
	wg      sync.WaitGroup
}

// New constructs a repository, loading any persisted pool from
// cfg.PersistPath. If cfg.Share is true, it subscribes to hub and applies
// incoming batches in the background until Close is called.
func New(cfg Config, vendor Vendor, hub *Hub) (*Repository, error) {
	if cfg.MinutesAllowed == 0 {
		cfg.MinutesAllowed = MinutesAllowed
	}
	pl, err := proxypool.LoadFile(cfg.PersistPath)
	if err != nil {
		return nil, err
	}
	r := &Repository{cfg: cfg, vendor: vendor, hub: hub, pool: pl}
	if cfg.Share && hub != nil {
		r.sub = hub.Subscribe()
		r.stopSub = make(chan struct{})
		r.wg.Add(1)
		go r.listen()
	}
	return r, nil
}

func (r *Repository) listen() {
	defer r.wg.Done()
	for {
		select {
		case b, ok := <-r.sub:
			if !ok {
				return
			}
			r.AddMore(b)
		case <-r.stopSub:
			return
		}
	}
}

// Close unsubscribes from the broadcast hub and stops the listener
// goroutine. Safe to call even if Share was false.
func (r *Repository) Close() {
	if r.stopSub != nil {
		close(r.stopSub)
		r.wg.Wait()
	}
	if r.sub != nil && r.hub != nil {
		r.hub.Unsubscribe(r.sub)
	}
}

// Type returns the proxy protocol this repository serves.
func (r *Repository) Type() Protocol {
	return r.cfg.Protocol
}

// Pool exposes the underlying pool, mostly for persistence/aging callers
// outside the hot path.
func (r *Repository) Pool() *proxypool.Pool {
	return r.pool
}

// NextEndpoint returns the next Active, cooldown-elapsed endpoint in
// round-robin order. If a full scan finds nothing, it triggers a refresh
// and retries once before giving up with ErrDrained.
func (r *Repository) NextEndpoint(ctx context.Context) (*proxypool.Proxy, error) {
	if p, ok := r.scanOnce(); ok {
		return p, nil
	}
	if err := r.GetMoreProxies(ctx); err != nil {
		log.Printf("[proxyrepo] refresh on drain failed: %v", err)
	}
	if p, ok := r.scanOnce(); ok {
		return p, nil
	}
	return nil, ErrDrained
}

// scanOnce walks the pool at most once around starting from the current
// cursor, returning the first Active/cooldown-elapsed entry it finds.
func (r *Repository) scanOnce() (*proxypool.Proxy, bool) {
	n := r.pool.Len()
	if n == 0 {
		return nil, false
	}
	r.mu.Lock()
	start := r.cursor
	r.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		p, ok := r.pool.At(idx)
		if !ok {
			continue
		}
		if p.Property() == proxypool.Active && p.CooldownElapsed() {
			r.mu.Lock()
			r.cursor = (idx + 1) % n
			r.mu.Unlock()
			return p, true
		}
		if p.Property() == proxypool.ToldToWait && p.CooldownElapsed() {
			p.SetProperty(proxypool.Active)
			r.mu.Lock()
			r.cursor = (idx + 1) % n
			r.mu.Unlock()
			return p, true
		}
	}
	return nil, false
}

// AddMore applies a sibling repository's broadcast batch, accepted only
// when both the peer thread and peer site differ from this one and it
// speaks the same protocol — a batch sharing either coordinate with self
// is rejected, not just one matching both.
func (r *Repository) AddMore(b Batch) {
	if b.ThreadID == r.cfg.ThreadID || b.SiteID == r.cfg.SiteID {
		return
	}
	if b.Protocol != r.cfg.Protocol {
		return
	}
	if len(b.Proxies) == 0 {
		return
	}
	r.pool.Append(b.Proxies...)
}

// GetMoreProxies runs the rate-limited refresh protocol: check quota
// (optional), extract a batch, dedup/evict into the pool, broadcast, and
// persist.
func (r *Repository) GetMoreProxies(ctx context.Context) error {
	r.mu.Lock()
	if r.refreshing {
		r.mu.Unlock()
		return nil
	}
	if since := time.Since(r.lastFetch); since < r.cfg.MinutesAllowed {
		r.mu.Unlock()
		return nil
	}
	r.refreshing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.refreshing = false
		r.mu.Unlock()
	}()

	if r.cfg.CheckQuota {
		q, err := r.vendor.FetchQuota(ctx)
		if err != nil {
			return fmt.Errorf("proxyrepo: fetch quota: %w", err)
		}
		if !q.RefreshAllowed() {
			return fmt.Errorf("proxyrepo: refresh refused: available=%v extract_remaining=%d", q.Available, q.ExtractRemaining)
		}
	}

	body, err := r.vendor.FetchProxies(ctx, r.cfg.PerFetch)
	if err != nil {
		return fmt.Errorf("proxyrepo: fetch proxies: %w", err)
	}
	fresh, err := parseExtractBody(body)
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}

	r.pool.Append(fresh...)
	r.mu.Lock()
	r.lastFetch = time.Now()
	r.mu.Unlock()

	if r.cfg.Share && r.hub != nil {
		r.hub.Publish(Batch{
			ThreadID: r.cfg.ThreadID,
			SiteID:   r.cfg.SiteID,
			Protocol: r.cfg.Protocol,
			Proxies:  fresh,
		})
	}

	if r.cfg.PersistPath != "" {
		if err := r.pool.SaveFile(r.cfg.PersistPath); err != nil {
			log.Printf("[proxyrepo] persist failed: %v", err)
		}
	}
	return nil
}

// PruneBlocked removes Blocked entries from the pool. Nothing in this
// module calls it on a schedule: neither the repository nor the task
// executor runs an aging tick, so Blocked entries stay in the pool
// (skipped by NextEndpoint) until a caller invokes this.
func (r *Repository) PruneBlocked() int {
	return r.pool.PruneBlocked()
}

// parseExtractBody parses the vendor's newline-separated "host:port [user]
// [pass]" extract response into fresh, Active proxy records.
func parseExtractBody(body []byte) ([]*proxypool.Proxy, error) {
	var out []*proxypool.Proxy
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		hostport := fields[0]
		i := strings.LastIndexByte(hostport, ':')
		if i < 0 {
			continue
		}
		port, err := strconv.Atoi(hostport[i+1:])
		if err != nil || port <= 0 {
			continue
		}
		p := &proxypool.Proxy{Host: hostport[:i], Port: port}
		if len(fields) > 1 {
			p.Username = fields[1]
		}
		if len(fields) > 2 {
			p.Password = fields[2]
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("proxyrepo: parse extract body: %w", err)
	}
	return out, nil
}
