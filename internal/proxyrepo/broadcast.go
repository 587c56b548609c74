package proxyrepo

import "github.com/drsoft-oss/numbercheck/internal/proxypool"

// Protocol identifies which proxy protocol a repository/broadcast batch
// speaks — the pack's two supported upstream kinds.
type Protocol int

const (
	SOCKS5 Protocol = iota
	HTTPConnect
)

func (p Protocol) String() string {
	if p == SOCKS5 {
		return "socks5"
	}
	return "http"
}

// Batch is one broadcast event: a sibling repository's freshly fetched
// proxies, tagged with enough identity for recipients to filter it.
type Batch struct {
	ThreadID int
	SiteID   int
	Protocol Protocol
	Proxies  []*proxypool.Proxy
}

// Hub is a typed, in-process publish-subscribe point shared by every proxy
// repository in the process, mirroring the teacher's channel-based
// rotation-trigger plumbing but fanned out to many subscribers instead of
// one.
type Hub struct {
	subscribe   chan chan Batch
	unsubscribe chan chan Batch
	publish     chan Batch
	done        chan struct{}
}

// NewHub starts the hub's dispatch loop and returns it. Callers should
// Close it on shutdown.
func NewHub() *Hub {
	h := &Hub{
		subscribe:   make(chan chan Batch),
		unsubscribe: make(chan chan Batch),
		publish:     make(chan Batch),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	subscribers := make(map[chan Batch]struct{})
	for {
		select {
		case ch := <-h.subscribe:
			subscribers[ch] = struct{}{}
		case ch := <-h.unsubscribe:
			delete(subscribers, ch)
			close(ch)
		case b := <-h.publish:
			for ch := range subscribers {
				select {
				case ch <- b:
				default: // slow subscriber, drop rather than block the publisher
				}
			}
		case <-h.done:
			return
		}
	}
}

// Subscribe registers a new buffered channel for broadcast delivery.
func (h *Hub) Subscribe() chan Batch {
	ch := make(chan Batch, 16)
	h.subscribe <- ch
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(ch chan Batch) {
	h.unsubscribe <- ch
}

// Publish broadcasts b to every current subscriber.
func (h *Hub) Publish(b Batch) {
	h.publish <- b
}

// Close stops the dispatch loop. Subsequent Publish/Subscribe calls block
// forever; callers must not use the hub after Close.
func (h *Hub) Close() {
	close(h.done)
}
