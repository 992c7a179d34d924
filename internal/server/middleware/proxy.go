package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/config"
	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/observability"
)

// Proxy forwards requests that no template answers to an upstream
// application server.
type Proxy struct {
	target  *url.URL
	timeout time.Duration
	proxy   *httputil.ReverseProxy
	logger  *observability.Logger
}

// NewProxy creates a new proxy instance
func NewProxy(cfg config.ProxyConfig, logger *observability.Logger) (*Proxy, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("proxy is not enabled")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	targetURL, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy target URL: %w", err)
	}

	p := &Proxy{
		target:  targetURL,
		timeout: cfg.Timeout,
		logger:  logger.WithComponent("proxy"),
	}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(targetURL)
			pr.SetXForwarded()
		},
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// Target returns the upstream URL.
func (p *Proxy) Target() *url.URL {
	return p.target
}

// ServeHTTP handles the HTTP request by forwarding it to the target server
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	p.proxy.ServeHTTP(w, r)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Warn("Proxy request failed",
		zap.String("path", r.URL.Path),
		zap.String("target", p.target.String()),
		zap.Error(err),
	)

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   constants.ErrorCodeBadGateway,
		"message": "Proxy error: " + err.Error(),
	})
}
