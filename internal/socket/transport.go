package socket

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Transport abstracts the underlying connection kind a socket session
// dials: plain TCP or TCP-then-TLS. It composes with a ProxyHandshake,
// which decides what happens on the wire before the site adapter's HTTP
// request is sent.
type Transport interface {
	// Dial opens a TCP connection to addr (the proxy's own host:port —
	// every variant in this system connects straight to the proxy, there
	// is no separate CONNECT-tunnelled origin).
	Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)
	// Upgrade performs a TLS handshake over conn using sni as the
	// ServerName, if this transport requires TLS; plain transports
	// return conn unchanged.
	Upgrade(ctx context.Context, conn net.Conn, sni string, timeout time.Duration) (net.Conn, error)
}

// PlainTransport dials a bare TCP connection; Upgrade is a no-op.
type PlainTransport struct{}

func (PlainTransport) Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

func (PlainTransport) Upgrade(ctx context.Context, conn net.Conn, sni string, timeout time.Duration) (net.Conn, error) {
	return conn, nil
}

// TLSTransport dials TCP then performs a TLS handshake directly over that
// connection, using the target site's hostname as SNI — the proxy is
// dialed first and the TLS handshake rides the same socket, matching the
// original system's "https over proxy" sockets, which never perform a
// separate CONNECT tunnel.
type TLSTransport struct{}

func (TLSTransport) Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

func (TLSTransport) Upgrade(ctx context.Context, conn net.Conn, sni string, timeout time.Duration) (net.Conn, error) {
	tlsConn := tls.Client(conn, &tls.Config{ServerName: sni})
	if deadline, ok := ctx.Deadline(); ok {
		tlsConn.SetDeadline(deadline)
	} else {
		tlsConn.SetDeadline(time.Now().Add(timeout))
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}
