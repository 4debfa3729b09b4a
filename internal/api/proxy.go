package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
)

// trustedProxyHeaders honors forwarding headers only on requests whose peer
// is one of the trusted proxies. Anyone else could pick a fresh address per
// request and dodge the per-address connection cap.
func trustedProxyHeaders(trusted []*net.IPNet, next http.Handler) http.Handler {
	proxied := handlers.ProxyHeaders(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := net.ParseIP(clientIP(r))
		if peer == nil || !containsIP(trusted, peer) {
			next.ServeHTTP(w, r)
			return
		}

		// Proxies append, so the rightmost untrusted hop is the client.
		r.Header.Del("Forwarded")
		r.Header.Del("X-Real-IP")
		if client := forwardedClient(trusted, r.Header.Values("X-Forwarded-For")); client != "" {
			r.Header.Set("X-Forwarded-For", client)
		} else {
			r.Header.Del("X-Forwarded-For")
		}
		proxied.ServeHTTP(w, r)
	})
}

func forwardedClient(trusted []*net.IPNet, values []string) string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}

	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(hops[i])
		if ip == nil {
			return ""
		}
		if !containsIP(trusted, ip) {
			return ip.String()
		}
	}
	return ""
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
