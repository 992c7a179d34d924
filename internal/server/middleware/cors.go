package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/leslieo2/go-template-reload/internal/config"
	"github.com/leslieo2/go-template-reload/internal/constants"
)

// CORSMiddleware answers cross-origin requests, which lets pages served from
// another origin subscribe to the live reload stream.
type CORSMiddleware struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// NewCORSMiddleware creates a new CORS middleware
func NewCORSMiddleware(cfg config.CORSConfig) *CORSMiddleware {
	return &CORSMiddleware{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
}

func (c *CORSMiddleware) allowed(origin string) bool {
	return slices.Contains(c.AllowedOrigins, "*") || slices.Contains(c.AllowedOrigins, origin)
}

// Handler returns the CORS middleware handler
func (c *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get(constants.HeaderOrigin)
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", constants.HeaderOrigin)
		if !c.allowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(constants.HeaderAccessControlAllowOrigin, origin)
		if c.AllowCredentials {
			w.Header().Set(constants.HeaderAccessControlAllowCredentials, "true")
		}

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Preflight
		if len(c.AllowedMethods) > 0 {
			w.Header().Set(constants.HeaderAccessControlAllowMethods, strings.Join(c.AllowedMethods, ", "))
		}
		if len(c.AllowedHeaders) > 0 {
			w.Header().Set(constants.HeaderAccessControlAllowHeaders, strings.Join(c.AllowedHeaders, ", "))
		}
		if c.MaxAge > 0 {
			w.Header().Set(constants.HeaderAccessControlMaxAge, strconv.Itoa(c.MaxAge))
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
