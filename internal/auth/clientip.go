package auth

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ProxyTrust decides when forwarded-for headers are believed. Entries are
// single IPs or CIDRs from gateway.trustedProxies.
type ProxyTrust struct {
	prefixes []netip.Prefix
}

// NewProxyTrust parses trusted proxy entries. An entry that is neither an
// IP nor a CIDR is reported back to the caller.
func NewProxyTrust(entries []string) (*ProxyTrust, error) {
	t := &ProxyTrust{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			t.prefixes = append(t.prefixes, prefix)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		t.prefixes = append(t.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return t, nil
}

// Trusted reports whether the socket peer is a configured proxy.
func (t *ProxyTrust) Trusted(ip string) bool {
	if t == nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range t.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the client address for r. When the socket peer is a
// trusted proxy, the leftmost X-Forwarded-For value (or X-Real-IP) wins;
// otherwise the socket remote address is authoritative.
func ClientIP(r *http.Request, trust *ProxyTrust) string {
	remote := remoteIP(r.RemoteAddr)
	if !trust.Trusted(remote) {
		return remote
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if _, err := netip.ParseAddr(first); err == nil {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if _, err := netip.ParseAddr(real); err == nil {
			return real
		}
	}
	return remote
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
