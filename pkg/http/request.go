package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig configures which peers are allowed to assert forwarded-for
// headers on behalf of their clients.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// ExtractOrigin resolves the client address used as half of the lockout key.
// Forwarding headers are honored only when the TCP peer is a trusted proxy;
// a direct caller cannot spoof its way into a fresh lockout bucket.
func ExtractOrigin(r *http.Request, config *IPConfig) string {
	peer := peerAddr(r)

	if config == nil || !withinTrustedRange(peer, config.TrustedProxies) {
		return peer
	}

	// First parseable entry of X-Forwarded-For wins, then X-Real-IP.
	for _, candidate := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
			return addr.String()
		}
	}
	if addr, err := netip.ParseAddr(r.Header.Get("X-Real-IP")); err == nil {
		return addr.String()
	}

	return peer
}

// peerAddr strips the port from RemoteAddr.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func withinTrustedRange(ip string, trusted []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, cidr := range trusted {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue // misconfigured range, fail closed for it
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
