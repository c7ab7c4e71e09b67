package util

import (
	"net"
	"net/netip"
	"strings"
)

// UnknownClientIP is reported when no usable address is available.
const UnknownClientIP = "0.0.0.0"

// clientIPHeaders are consulted in order before the socket address.
var clientIPHeaders = []string{"CF-Connecting-IP", "Client-IP", "X-Forwarded-For"}

// ClientIP picks the first public address from the forwarding headers, then
// the remote address. A private remote address is returned as is when
// nothing public is found. The headers are client-controlled.
func ClientIP(header func(name string) string, remoteAddr string) string {
	for _, name := range clientIPHeaders {
		value := header(name)
		if value == "" {
			continue
		}
		for _, candidate := range strings.Split(value, ",") {
			if ip, ok := publicIP(candidate); ok {
				return ip
			}
		}
	}

	if ip, ok := publicIP(remoteAddr); ok {
		return ip
	}
	if addr, err := netip.ParseAddr(stripPort(remoteAddr)); err == nil {
		return addr.Unmap().String()
	}
	return UnknownClientIP
}

func publicIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(stripPort(raw))
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	if !addr.IsGlobalUnicast() || addr.IsPrivate() || isReserved(addr) {
		return "", false
	}
	return addr.String(), true
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func isReserved(addr netip.Addr) bool {
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func stripPort(raw string) string {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		return host
	}
	return strings.Trim(raw, "[]")
}
