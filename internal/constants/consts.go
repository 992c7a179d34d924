package constants

import "time"

// Environment variable constants
const (
	EnvHost             = "GO_TEMPLATE_RELOAD_HOST"
	EnvPort             = "GO_TEMPLATE_RELOAD_PORT"
	EnvMetricsPort      = "GO_TEMPLATE_RELOAD_METRICS_PORT"
	EnvReadTimeout      = "GO_TEMPLATE_RELOAD_READ_TIMEOUT"
	EnvIdleTimeout      = "GO_TEMPLATE_RELOAD_IDLE_TIMEOUT"
	EnvMaxRequestSize   = "GO_TEMPLATE_RELOAD_MAX_REQUEST_SIZE"
	EnvShutdownTimeout  = "GO_TEMPLATE_RELOAD_SHUTDOWN_TIMEOUT"
	EnvTemplateRoot     = "GO_TEMPLATE_RELOAD_TEMPLATE_ROOT"
	EnvTemplateIndex    = "GO_TEMPLATE_RELOAD_TEMPLATE_INDEX"
	EnvDevelopment      = "GO_TEMPLATE_RELOAD_DEVELOPMENT"
	EnvLiveReload       = "GO_TEMPLATE_RELOAD_LIVE_RELOAD"
	EnvLiveReloadPath   = "GO_TEMPLATE_RELOAD_LIVE_RELOAD_PATH"
	EnvKeepAlive        = "GO_TEMPLATE_RELOAD_KEEP_ALIVE"
	EnvLogLevel         = "GO_TEMPLATE_RELOAD_LOG_LEVEL"
	EnvLogFormat        = "GO_TEMPLATE_RELOAD_LOG_FORMAT"
	EnvProxyEnabled     = "GO_TEMPLATE_RELOAD_PROXY_ENABLED"
	EnvProxyTarget      = "GO_TEMPLATE_RELOAD_PROXY_TARGET"
	EnvProxyTimeout     = "GO_TEMPLATE_RELOAD_PROXY_TIMEOUT"
	EnvTLSEnabled       = "GO_TEMPLATE_RELOAD_TLS_ENABLED"
	EnvTLSCertFile      = "GO_TEMPLATE_RELOAD_TLS_CERT_FILE"
	EnvTLSKeyFile       = "GO_TEMPLATE_RELOAD_TLS_KEY_FILE"
	EnvRateLimitEnabled = "GO_TEMPLATE_RELOAD_RATE_LIMIT_ENABLED"
)

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderCacheControl  = "Cache-Control"
	HeaderConnection    = "Connection"
	HeaderOrigin        = "Origin"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderXRealIP       = "X-Real-IP"
	// HeaderXAccelBuffering disables response buffering in nginx-style proxies.
	HeaderXAccelBuffering = "X-Accel-Buffering"
)

// Content type constants
const (
	ContentTypeJSON        = "application/json"
	ContentTypeHTML        = "text/html; charset=utf-8"
	ContentTypeEventStream = "text/event-stream"
)

// CORS headers
const (
	HeaderAccessControlAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAccessControlAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAccessControlAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAccessControlAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderAccessControlMaxAge           = "Access-Control-Max-Age"
)

// Rate limiting headers
const (
	HeaderXRateLimitLimit     = "X-RateLimit-Limit"
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderXRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter          = "Retry-After"
)

// Rate limiter internal constants
const (
	// RateLimitCleanupInterval is the interval for cleaning up rate limit cache
	RateLimitCleanupInterval = 5 * time.Minute
	// RateLimitMaxCacheSize is the maximum size of the rate limit cache
	RateLimitMaxCacheSize = 10000
)

// Server defaults
const (
	ServerReadTimeout       = 15 * time.Second
	ServerIdleTimeout       = 60 * time.Second
	ServerMaxRequestSize    = 10 * 1024 * 1024
	ServerShutdownTimeout   = 30 * time.Second
	ServerReadHeaderTimeout = 5 * time.Second
)

// Live reload defaults
const (
	// LiveReloadKeepAlive is how often an idle stream writes a comment frame.
	LiveReloadKeepAlive = 15 * time.Second
	// LiveReloadRetry is the reconnect backoff advertised to browsers.
	LiveReloadRetry = 5 * time.Second
	// LiveReloadEvent is the event payload sent for every change.
	LiveReloadEvent = "reload"
)

// Path constants
const (
	PathHealth     = "/health"
	PathReady      = "/ready"
	PathMetrics    = "/metrics"
	PathLiveReload = "/dev/reload"
)

// Error code constants
const (
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrorCodeRenderFailed      = "RENDER_FAILED"
	ErrorCodeBadTemplateName   = "BAD_TEMPLATE_NAME"
	ErrorCodeBadGateway        = "BAD_GATEWAY"
	ErrorCodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
)
