package executor

import (
	"fmt"
	"strings"

	"github.com/drsoft-oss/numbercheck/internal/siteadapter"
	"github.com/drsoft-oss/numbercheck/internal/socket"
)

// SiteKind identifies which adapter/transport pair a task's target
// address maps to. Detected from a substring of the configured target
// URL, mirroring the original crawler's run_number_crawler dispatch.
type SiteKind int

const (
	SiteUnknown SiteKind = iota
	SitePPSports
	SiteJJGames
	SiteAutoHome
	SiteWatchHome
)

// DetectSiteKind inspects target for one of the known site substrings.
func DetectSiteKind(target string) SiteKind {
	switch {
	case strings.Contains(target, "ppsports"):
		return SitePPSports
	case strings.Contains(target, "jjgames"):
		return SiteJJGames
	case strings.Contains(target, "autohome"):
		return SiteAutoHome
	case strings.Contains(target, "watchhome"):
		return SiteWatchHome
	default:
		return SiteUnknown
	}
}

// secretForHost derives the JJGames cookie salt from the configured
// username — the original system keyed its MD5 cookie off a
// per-deployment shared secret passed alongside the site credentials,
// not a separate config field.
func secretForHost(username string) string {
	if username == "" {
		return "jjgames-default-salt"
	}
	return username
}

// BuildAdapter returns the site adapter and the transport it requires for
// the given kind and host.
func BuildAdapter(kind SiteKind, host, username string) (siteadapter.Adapter, socket.Transport, error) {
	switch kind {
	case SitePPSports:
		return siteadapter.NewPPSports(host), socket.PlainTransport{}, nil
	case SiteJJGames:
		return siteadapter.NewJJGames(host, secretForHost(username)), socket.TLSTransport{}, nil
	case SiteAutoHome:
		return siteadapter.NewAutoHome(host), socket.TLSTransport{}, nil
	case SiteWatchHome:
		return siteadapter.NewWatchHome(host), socket.PlainTransport{}, nil
	default:
		return nil, nil, fmt.Errorf("executor: unrecognised site target %q", host)
	}
}

// BuildHandshake maps the proxy_config.json protocol field to the proxy
// handshake trait.
func BuildHandshake(proto flexibleInt) socket.ProxyHandshake {
	if proto == 1 {
		return socket.NoHandshake{}
	}
	return socket.SOCKS5Handshake{}
}
