package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// allowedHostsMiddleware rejects requests whose Host header is not on
// the list. An entry starting with "*" matches every subdomain of its
// remainder, so "*.example.com" admits "api.example.com" but not
// "example.com" itself.
func allowedHostsMiddleware(hosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			host := req.Host
			if splitted, _, err := net.SplitHostPort(host); err == nil {
				host = splitted
			}

			host = strings.ToLower(host)

			for _, v := range hosts {
				if hostMatches(host, strings.ToLower(v)) {
					next.ServeHTTP(w, req)

					return
				}
			}

			http.Error(w, "Host is not allowed", http.StatusForbidden)
		})
	}
}

func hostMatches(host, pattern string) bool {
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(host, pattern[1:])
	}

	return host == pattern
}

// apiKeyMiddleware demands the configured key as a bearer token, an
// X-Api-Key header or an api_key query parameter.
func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	keyBytes := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if subtle.ConstantTimeCompare(keyBytes, []byte(requestAPIKey(req))) == 1 {
				next.ServeHTTP(w, req)

				return
			}

			http.Error(w, "Authentication is required", http.StatusUnauthorized)
		})
	}
}

func requestAPIKey(req *http.Request) string {
	if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}

	if header := req.Header.Get("X-Api-Key"); header != "" {
		return header
	}

	return req.URL.Query().Get("api_key")
}
