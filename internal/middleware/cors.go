// Package middleware provides HTTP middleware for the focus daemon API.
package middleware

import (
	"net/http"
	"strings"
)

// CORS returns middleware that handles CORS headers. An entry ending in "*"
// matches any origin with that prefix, so "chrome-extension://*" admits every
// installed extension.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				if match, explicit := matchOrigin(allowedOrigins, origin); match {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
					w.Header().Add("Vary", "Origin")
					// Credentials only for exact matches, never for wildcards.
					if explicit {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether origin matches an entry of allowed.
func OriginAllowed(allowed []string, origin string) bool {
	match, _ := matchOrigin(allowed, origin)
	return match
}

func matchOrigin(allowed []string, origin string) (match, explicit bool) {
	for _, o := range allowed {
		switch {
		case o == origin:
			return true, true
		case o == "*":
			match = true
		case strings.HasSuffix(o, "*") && strings.HasPrefix(origin, strings.TrimSuffix(o, "*")):
			match = true
		}
	}
	return match, false
}
