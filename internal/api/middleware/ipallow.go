package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// IPAllowlist returns middleware that rejects requests from IPs outside
// the given CIDRs with 403. Loopback is always allowed so the local
// dashboard keeps working with an empty configuration. With no CIDRs
// configured, only loopback may connect.
func IPAllowlist(cidrs []string) (func(http.Handler) http.Handler, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("parsing allowlist cidr %q: %w", c, err)
		}
		nets = append(nets, ipNet)
	}

	allowed := func(ip net.IP) bool {
		if ip == nil {
			return false
		}
		if ip.IsLoopback() {
			return true
		}
		for _, n := range nets {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := net.ParseIP(extractIP(r))
			if !allowed(ip) {
				slog.Warn("request from disallowed ip",
					"ip", extractIP(r),
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(errorEnvelope{Error: "forbidden"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
