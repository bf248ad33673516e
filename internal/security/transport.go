// Package security guards outbound webhook calls against SSRF. Every dial
// and redirect is checked against a blocklist of private, loopback,
// link-local and reserved ranges.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"
)

// dnsTimeout bounds each resolution done by the guard.
const dnsTimeout = 500 * time.Millisecond

var (
	ErrBlocked          = errors.New("ssrf: destination in blocked IP range")
	ErrDNSTimeout       = errors.New("ssrf: DNS resolution timeout")
	ErrDNSFailed        = errors.New("ssrf: DNS resolution failed")
	ErrTooManyRedirects = errors.New("ssrf: too many redirects")
)

// BlockedPrefixes are never dialled.
var BlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"), // cloud metadata
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("::1/128"),
}

// Resolver abstracts DNS for tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard checks hosts against BlockedPrefixes.
type Guard struct {
	resolver Resolver
	blocked  []netip.Prefix
}

// NewGuard creates a Guard. A nil resolver uses net.DefaultResolver.
func NewGuard(resolver Resolver) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{resolver: resolver, blocked: BlockedPrefixes}
}

// IsBlocked reports whether ip falls in a blocked range. IPv4-mapped IPv6
// addresses are checked as IPv4.
func (g *Guard) IsBlocked(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range g.blocked {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the host's addresses, failing if any of them is blocked.
// Checking all addresses prevents mixing a safe and a private answer.
func (g *Guard) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		if g.IsBlocked(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlocked, ip)
		}
		return []netip.Addr{ip}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q has no addresses", ErrDNSFailed, host)
	}

	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return nil, fmt.Errorf("%w: host %q returned malformed address", ErrDNSFailed, host)
		}
		if g.IsBlocked(ip) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlocked, ip.Unmap(), host)
		}
		out = append(out, ip)
	}
	return out, nil
}

// ValidateURL resolves the URL's host and checks it. Used when a webhook
// destination is configured, before any delivery.
func (g *Guard) ValidateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: cannot extract host from %q", ErrBlocked, raw)
	}
	_, err = g.Resolve(ctx, u.Hostname())
	return err
}

// DialContext resolves and validates addr, then dials the first address.
// The resolved IP is dialled directly so the check cannot be bypassed by
// DNS rebinding between check and connect.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}
	ips, err := g.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].Unmap().String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect func that validates
// every hop and caps the redirect count.
func (g *Guard) CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlocked)
		}
		if _, err := g.Resolve(req.Context(), host); err != nil {
			return fmt.Errorf("redirect: %w", err)
		}
		return nil
	}
}

// NewSafeHTTPClient returns an http.Client whose transport dials only
// through g.
func NewSafeHTTPClient(g *Guard, timeout time.Duration, maxRedirects int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = g.DialContext
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: g.CheckRedirect(maxRedirects),
	}
}
