package middleware

import (
	"net/http"

	"bidding-core/pkg/logger"
)

// OriginAllowed reports whether origin is in allowed. "*" allows everything.
func OriginAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// CORS answers preflights and echoes back allowed origins. Requests from
// other origins pass through without CORS headers, so browsers block them.
func CORS(allowed []string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && OriginAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization, Idempotency-Key, X-Requested-With")
				w.Header().Set("Access-Control-Max-Age", "86400")
			} else if origin != "" {
				log.Debug("CORS origin not allowed", "origin", origin, "path", r.URL.Path)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
