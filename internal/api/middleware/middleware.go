// Package middleware holds the HTTP surface's cross-cutting concerns:
// structured access logging, CORS, and re-exports of the chi middleware
// the router composes alongside them.
package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestID, Recoverer, and RealIP are re-exported so the router only ever
// imports this package for its global middleware stack.
var (
	RequestID = middleware.RequestID
	Recoverer = middleware.Recoverer
	RealIP    = middleware.RealIP
)

// CORS returns a permissive-but-explicit CORS middleware for the small
// fixed set of allowed origins (typically empty for this operator-facing
// daemon, since it has no browser UI of its own, but left configurable for
// a future dashboard or a cross-origin `/webhook` caller).
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed[origin] || allowed["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
