package middleware

import (
	"fmt"
	"net/http"

	"github.com/leslieo2/go-template-reload/internal/config"
)

// SecurityHeadersMiddleware sets browser hardening headers. No
// Content-Security-Policy is sent because rendered pages carry an inline
// reconnect script.
func SecurityHeadersMiddleware(cfg config.SecurityHeaders) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			// HSTS is only honoured over TLS; sending it on plain HTTP would
			// pin localhost to https for every other dev server.
			if r.TLS != nil && cfg.HSTSMaxAge > 0 {
				w.Header().Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge))
			}

			next.ServeHTTP(w, r)
		})
	}
}
