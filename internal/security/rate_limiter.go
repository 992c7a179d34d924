package security

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leslieo2/go-template-reload/internal/config"
	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/observability"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	limiters *cache.Cache
	config   config.RateLimitConfig
	clock    Clock
	logger   *observability.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// RateLimitStatus describes a client's bucket after a request.
type RateLimitStatus struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Reset      time.Time     `json:"reset"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// NewRateLimiter creates a limiter and starts its cache size enforcement.
// Call Close to stop the background cleanup.
func NewRateLimiter(cfg config.RateLimitConfig, logger *observability.Logger) *RateLimiter {
	rl := newRateLimiter(cfg, logger, RealClock{})
	go rl.periodicCleanup()
	return rl
}

func newRateLimiter(cfg config.RateLimitConfig, logger *observability.Logger, clock Clock) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = constants.RateLimitCleanupInterval
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = constants.RateLimitMaxCacheSize
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RateLimiter{
		limiters: cache.New(cfg.CleanupInterval, cfg.CleanupInterval*2),
		config:   cfg,
		clock:    clock,
		logger:   logger.WithComponent("rate_limiter"),
		stop:     make(chan struct{}),
	}
}

// Close stops the background cleanup.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// periodicCleanup evicts entries once the cache grows past its maximum size
func (rl *RateLimiter) periodicCleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.enforceMaxSize()
		}
	}
}

func (rl *RateLimiter) enforceMaxSize() {
	maxSize := rl.config.MaxCacheSize
	currentSize := rl.limiters.ItemCount()
	if currentSize <= maxSize {
		return
	}

	// Remove an extra 10% so cleanup does not run on every tick.
	toRemove := currentSize - maxSize + maxSize/10

	// go-cache keeps no access times; map iteration order is random enough.
	removed := 0
	for key := range rl.limiters.Items() {
		if removed >= toRemove {
			break
		}
		rl.limiters.Delete(key)
		removed++
	}
	rl.logger.Debug("Evicted rate limit entries", zap.Int("removed", removed), zap.Int("size", currentSize))
}

func (rl *RateLimiter) limiterFor(identifier string) *rate.Limiter {
	if item, found := rl.limiters.Get(identifier); found {
		return item.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)
	rl.limiters.Set(identifier, limiter, cache.DefaultExpiration)
	return limiter
}

// Allow consumes a token for identifier and reports whether one was available.
func (rl *RateLimiter) Allow(identifier string) bool {
	if !rl.config.Enabled {
		return true
	}
	return rl.limiterFor(identifier).AllowN(rl.clock.Now(), 1)
}

// Status reports identifier's bucket without consuming a token.
func (rl *RateLimiter) Status(identifier string) RateLimitStatus {
	now := rl.clock.Now()
	status := RateLimitStatus{
		Limit:     rl.config.BurstSize,
		Remaining: rl.config.BurstSize,
		Reset:     now,
	}
	if !rl.config.Enabled {
		return status
	}

	tokens := rl.limiterFor(identifier).TokensAt(now)
	status.Remaining = int(math.Max(0, math.Floor(tokens)))

	perToken := time.Duration(float64(time.Second) / rl.config.RequestsPerSecond)
	missing := float64(rl.config.BurstSize) - tokens
	status.Reset = now.Add(time.Duration(missing * float64(perToken)))
	if tokens < 1 {
		status.RetryAfter = time.Duration((1 - tokens) * float64(perToken))
	}
	return status
}

// Middleware rejects requests from clients that exceeded their rate.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		identifier := "ip:" + ClientIP(r)
		allowed := rl.Allow(identifier)
		status := rl.Status(identifier)

		w.Header().Set(constants.HeaderXRateLimitLimit, strconv.Itoa(status.Limit))
		w.Header().Set(constants.HeaderXRateLimitRemaining, strconv.Itoa(status.Remaining))
		w.Header().Set(constants.HeaderXRateLimitReset, strconv.FormatInt(status.Reset.Unix(), 10))

		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(math.Ceil(status.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		rl.logger.Warn("Rate limit exceeded", zap.String("client", identifier), zap.String("path", r.URL.Path))

		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		w.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)

		response := map[string]interface{}{
			"error":       constants.ErrorCodeRateLimitExceeded,
			"message":     fmt.Sprintf("Rate limit exceeded. Try again in %ds", retryAfter),
			"retry_after": retryAfter,
		}
		_ = json.NewEncoder(w).Encode(response)
	})
}

// ClientIP returns the originating client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get(constants.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get(constants.HeaderXRealIP)); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
