// Package session recognizes authenticated editing sessions asserted by a
// forward-auth proxy in front of the page server.
package session

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
)

// Detector trusts the identity header only when the direct peer is a trusted
// proxy. From any other peer the header is ignored.
type Detector struct {
	header          string
	trustedNetworks []netip.Prefix
}

// New constructs a detector. Loopback peers are always trusted.
func New(header string, trusted []netip.Prefix) *Detector {
	return &Detector{
		header:          http.CanonicalHeaderKey(strings.TrimSpace(header)),
		trustedNetworks: trusted,
	}
}

// Identify returns the session identity carried by the request.
func (d *Detector) Identify(r *http.Request) pagerequest.Identity {
	if d == nil || d.header == "" || r == nil {
		return pagerequest.Identity{}
	}
	user := strings.TrimSpace(r.Header.Get(d.header))
	if user == "" {
		return pagerequest.Identity{}
	}
	addr, err := parseRemoteIP(r.RemoteAddr)
	if err != nil || !d.isTrusted(addr) {
		return pagerequest.Identity{}
	}
	return pagerequest.Identity{LoggedIn: true, User: user}
}

func (d *Detector) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true
	}
	for _, network := range d.trustedNetworks {
		if network.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func parseRemoteIP(addr string) (netip.Addr, error) {
	host := remoteHost(addr)
	if host == "" {
		return netip.Addr{}, net.InvalidAddrError("empty remote address")
	}
	return netip.ParseAddr(host)
}

// ParseCIDRs converts CIDR blocks or bare addresses into prefixes, skipping
// malformed values.
func ParseCIDRs(cidrs []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		trimmed := strings.TrimSpace(cidr)
		if prefix, err := netip.ParsePrefix(trimmed); err == nil {
			prefixes = append(prefixes, prefix)
			continue
		}
		if addr, err := netip.ParseAddr(trimmed); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return prefixes
}
