package server

import (
	"net"
	"net/http"
	"slices"
	"strings"
)

// isAllowedHost checks if the Host header is a localhost variant.
// Returns true for empty host (HTTP/1.0 clients), localhost, 127.0.0.1, and [::1]
// with any port. This rejects DNS rebinding, where a foreign name resolves
// to 127.0.0.1 and the browser sends that name as Host.
func isAllowedHost(host string) bool {
	if host == "" {
		return true
	}

	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	hostname = strings.TrimPrefix(hostname, "[")
	hostname = strings.TrimSuffix(hostname, "]")

	if hostname == "localhost" {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// cors enforces the origin allow-list. Requests without an Origin header
// (CLI clients, curl) pass; requests from an origin outside the list are
// rejected. Allowed origins are echoed back with credentials, every method,
// and whatever headers the preflight asks for.
func cors(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAllowedHost(r.Host) {
			writeJSON(w, http.StatusForbidden, errorBody{Detail: "invalid Host header"})
			return
		}

		origin := r.Header.Get("Origin")
		if origin != "" && !slices.Contains(allowed, origin) {
			writeJSON(w, http.StatusForbidden, errorBody{Detail: "origin not allowed"})
			return
		}

		if origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
