package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientKey identifies a caller for rate limiting purposes.
type ClientKey string

// Client key prefixes.
const (
	userKeyPrefix = "user:"
	ipKeyPrefix   = "ip:"
)

// UnknownClient is returned when a request carries no usable identity.
const UnknownClient ClientKey = ipKeyPrefix + "unknown"

// HeaderXForwardedFor is the forwarded-for header consulted when trusted.
const HeaderXForwardedFor = "X-Forwarded-For"

type userIDKey struct{}

// ContextWithUserID attaches an authenticated user identifier to ctx.
// Authentication middleware calls this before the rate limiter runs.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user identifier, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// Identifier derives client keys from requests.
//
// X-Forwarded-For is ignored unless trustForwardedFor is set. With trust
// enabled and no trusted proxies listed, every peer is treated as a proxy;
// otherwise only peers inside one of the trusted CIDRs are.
type Identifier struct {
	trustForwardedFor bool
	trustedCIDRs      []*net.IPNet
}

// NewIdentifier creates an Identifier. trustedProxies accepts CIDRs and
// bare IP addresses.
func NewIdentifier(trustForwardedFor bool, trustedProxies []string) (*Identifier, error) {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", proxy)
			}
			cidr = singleIPToCIDR(ip)
		}
		cidrs = append(cidrs, cidr)
	}

	return &Identifier{
		trustForwardedFor: trustForwardedFor,
		trustedCIDRs:      cidrs,
	}, nil
}

// singleIPToCIDR converts a single IP address to a /32 or /128 CIDR.
func singleIPToCIDR(ip net.IP) *net.IPNet {
	bits := 32
	if ip.To4() == nil {
		bits = 128 //nolint:mnd // IPv6 prefix length
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(bits, bits),
	}
}

// Identify returns the client key for r. It never fails.
func (i *Identifier) Identify(r *http.Request) ClientKey {
	if r == nil {
		return UnknownClient
	}

	if id, ok := UserIDFromContext(r.Context()); ok {
		return ClientKey(userKeyPrefix + id)
	}

	peer := stripPort(r.RemoteAddr)

	if i != nil && i.trustForwardedFor && i.peerIsProxy(peer) {
		if forwarded := firstForwardedAddress(r.Header.Get(HeaderXForwardedFor)); forwarded != "" {
			return ClientKey(ipKeyPrefix + forwarded)
		}
	}

	if peer == "" {
		return UnknownClient
	}
	return ClientKey(ipKeyPrefix + peer)
}

func (i *Identifier) peerIsProxy(peer string) bool {
	if len(i.trustedCIDRs) == 0 {
		return true
	}

	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, cidr := range i.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// firstForwardedAddress returns the left-most non-empty entry of an
// X-Forwarded-For value in canonical form, or "" when that entry is not an
// IP address. A port on the entry is dropped.
func firstForwardedAddress(xff string) string {
	for _, part := range strings.Split(xff, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		ip := net.ParseIP(stripPort(addr))
		if ip == nil {
			return ""
		}
		return ip.String()
	}
	return ""
}

// stripPort removes the port from an address string.
// Handles both IPv4 ("192.168.1.1:8080") and IPv6 ("[::1]:8080") formats.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(strings.TrimSpace(addr), "[]")
	}
	return host
}
