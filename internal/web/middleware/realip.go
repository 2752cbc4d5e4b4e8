package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// proxies is the set of peers allowed to name the client.
type proxies []netip.Prefix

// parseProxies accepts CIDRs and bare addresses. Invalid entries are logged
// and dropped.
func parseProxies(entries []string) proxies {
	var ps proxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			ps = append(ps, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			slog.Warn("realip: invalid trusted proxy, skipping", "entry", e, "error", err)
			continue
		}
		ps = append(ps, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return ps
}

func (ps proxies) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range ps {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// TrustedRealIP rewrites RemoteAddr from X-Real-IP or X-Forwarded-For when
// the peer is a trusted proxy. Requests from anyone else keep their peer
// address, so clients cannot choose what the request log records.
func TrustedRealIP(trusted []string) func(http.Handler) http.Handler {
	ps := parseProxies(trusted)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(ps) > 0 {
				if peer, ok := peerAddr(r.RemoteAddr); ok && ps.contains(peer) {
					if client, ok := forwardedAddr(r.Header); ok {
						r.RemoteAddr = client.String()
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedAddr returns the client named by X-Real-IP, or else the first hop
// of X-Forwarded-For.
func forwardedAddr(h http.Header) (netip.Addr, bool) {
	v := strings.TrimSpace(h.Get("X-Real-IP"))
	if v == "" {
		v, _, _ = strings.Cut(h.Get("X-Forwarded-For"), ",")
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(v)
	return addr, err == nil
}

// peerAddr parses host:port or a bare address.
func peerAddr(remote string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	addr, err := netip.ParseAddr(remote)
	return addr, err == nil
}
