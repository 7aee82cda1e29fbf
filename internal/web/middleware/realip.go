package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/core"
)

// TrustedRealIP resolves the client IP and stores it in the request context
// for logging and rate limiting. X-Real-IP and X-Forwarded-For are honoured
// only when the connection comes from a trusted proxy; otherwise the
// connection's own address is used, so clients cannot spoof their way past
// the per-IP rate limit.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	var trustedNets []*net.IPNet
	for _, cidr := range trustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}

		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			// bare addresses are accepted as single-host networks
			if ip := net.ParseIP(cidr); ip != nil {
				mask := net.CIDRMask(128, 128)
				if ip.To4() != nil {
					mask = net.CIDRMask(32, 32)
				}
				trustedNets = append(trustedNets, &net.IPNet{IP: ip, Mask: mask})
			} else {
				slog.Warn("realip: invalid trusted proxy CIDR, skipping",
					"cidr", cidr,
					"error", err,
				)
			}
			continue
		}
		trustedNets = append(trustedNets, network)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := extractIP(r.RemoteAddr)
			if isTrusted(client, trustedNets) {
				if forwarded := forwardedFor(r); forwarded != nil {
					client = forwarded
				}
			}

			ip := r.RemoteAddr
			if client != nil {
				ip = client.String()
				r.RemoteAddr = ip
			}
			next.ServeHTTP(w, r.WithContext(core.ContextWithIPAddress(r.Context(), ip)))
		})
	}
}

// forwardedFor returns the client named by X-Real-IP, or failing that the
// first hop of X-Forwarded-For. Malformed values are ignored.
func forwardedFor(r *http.Request) net.IP {
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return net.ParseIP(rip)
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return nil
	}
	first, _, _ := strings.Cut(xff, ",")
	return net.ParseIP(strings.TrimSpace(first))
}

// extractIP parses an IP address from a host:port string or plain IP.
func extractIP(addr string) net.IP {
	// Handle "host:port" format
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}

// isTrusted checks if an IP is within any of the trusted networks.
func isTrusted(ip net.IP, trusted []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
