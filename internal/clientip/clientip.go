// Package clientip works out which address a request originated from.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

const (
	// Unknown is returned when no client address can be determined.
	Unknown = "unknown"

	// MappedIPv4Prefix marks an IPv4 address carried in IPv6 notation.
	MappedIPv4Prefix = "::ffff:"

	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

// Normalize strips the IPv4-mapped IPv6 prefix, so "::ffff:10.0.0.1" and
// "10.0.0.1" compare equal. Any other input is returned unchanged.
func Normalize(ip string) string {
	if rest, ok := strings.CutPrefix(ip, MappedIPv4Prefix); ok {
		return rest
	}
	return ip
}

// FromHeaders resolves the client address from proxy headers alone:
// the first X-Forwarded-For entry, then X-Real-IP, then Unknown.
func FromHeaders(h http.Header) string {
	if xff := h.Get(HeaderForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return Normalize(ip)
		}
	}
	if realIP := strings.TrimSpace(h.Get(HeaderRealIP)); realIP != "" {
		return Normalize(realIP)
	}
	return Unknown
}

// Resolver resolves client addresses, trusting forwarding headers only when
// the TCP peer is a known proxy.
//
// With no trusted proxies configured every request's headers are believed.
// That matches a deployment behind a platform load balancer that always
// overwrites X-Forwarded-For, but lets direct clients pick their own address.
type Resolver struct {
	trusted []*net.IPNet
}

// NewResolver builds a Resolver from IP or CIDR strings.
// Invalid entries are skipped; validate them at configuration time.
func NewResolver(trustedProxies []string) *Resolver {
	return &Resolver{trusted: ParseNets(trustedProxies)}
}

// TrustsHeaders reports whether the resolver believes headers unconditionally.
func (r *Resolver) TrustsHeaders() bool {
	return r == nil || len(r.trusted) == 0
}

// FromRequest returns the client address for req. It never returns "".
func (r *Resolver) FromRequest(req *http.Request) string {
	if r.TrustsHeaders() {
		return FromHeaders(req.Header)
	}

	peer := Normalize(stripPort(req.RemoteAddr))
	if !r.isTrusted(peer) {
		if peer == "" {
			return Unknown
		}
		return peer
	}

	if ip := FromHeaders(req.Header); ip != Unknown {
		return ip
	}
	if peer == "" {
		return Unknown
	}
	return peer
}

// IsTrustedPeer reports whether the request arrived from a trusted proxy.
func (r *Resolver) IsTrustedPeer(req *http.Request) bool {
	if r == nil {
		return false
	}
	return r.isTrusted(Normalize(stripPort(req.RemoteAddr)))
}

func (r *Resolver) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range r.trusted {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// ParseNets converts IP and CIDR strings into networks. A bare IP becomes a
// single-host network. Entries that fail to parse are skipped.
func ParseNets(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				continue
			}
			if ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			continue
		}
		nets = append(nets, n)
	}
	return nets
}

// stripPort removes the port from a host:port address.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
