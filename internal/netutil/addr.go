package netutil

import (
	"fmt"
	"net/netip"
	"strings"
)

// DefaultNAT64Prefix is the RFC 6052 well-known prefix.
const DefaultNAT64Prefix = "64:ff9b::/96"

// Address family symbols used by badges and popup rows.
const (
	VersionV4      = "4"
	VersionV6      = "6"
	VersionUnknown = "?"
)

// ParseNAT64Prefix parses an IPv6 CIDR used to recognise NAT64-synthesized
// addresses. An empty string yields the well-known prefix.
func ParseNAT64Prefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultNAT64Prefix
	}
	if !strings.Contains(s, "/") {
		s += "/96"
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("nat64 prefix %q: %w", s, err)
	}
	if !p.Addr().Is6() || p.Addr().Is4In6() {
		return netip.Prefix{}, fmt.Errorf("nat64 prefix %q: not an IPv6 prefix", s)
	}
	return p.Masked(), nil
}

// MustNAT64Prefix is ParseNAT64Prefix for constants.
func MustNAT64Prefix(s string) netip.Prefix {
	p, err := ParseNAT64Prefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// AddrVersion classifies a remote address string as "4", "6" or "?".
//
// Anything containing a dot is treated as IPv4, which also covers IPv4-mapped
// IPv6 text such as ::ffff:192.0.2.1. IPv6 addresses inside the NAT64 prefix
// count as IPv4 because the real peer is an IPv4 host.
func AddrVersion(addr string, nat64 netip.Prefix) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return VersionUnknown
	}
	if strings.Contains(addr, ".") {
		return VersionV4
	}
	ip, err := netip.ParseAddr(StripBrackets(addr))
	if err != nil || !ip.Is6() {
		return VersionUnknown
	}
	if nat64.IsValid() && nat64.Contains(ip.WithZone("")) {
		return VersionV4
	}
	return VersionV6
}

// StripBrackets removes the [] that DevTools wraps around IPv6 literals.
func StripBrackets(addr string) string {
	if len(addr) >= 2 && addr[0] == '[' && addr[len(addr)-1] == ']' {
		return addr[1 : len(addr)-1]
	}
	return addr
}
