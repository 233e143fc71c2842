package rpc

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"accumreg/observability"
)

// RateLimit bounds the request rate of a single client.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// Enabled reports whether the limit is active.
func (l RateLimit) Enabled() bool {
	return l.RequestsPerMinute > 0
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client source.
type RateLimiter struct {
	limit    RateLimit
	logger   *slog.Logger
	idleTTL  time.Duration
	clockNow func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter returns a limiter enforcing limit per client. A disabled
// limit lets every request through.
func NewRateLimiter(limit RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		limit:    limit,
		logger:   logger,
		idleTTL:  5 * time.Minute,
		clockNow: time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow consumes a token for source.
func (r *RateLimiter) Allow(source string) bool {
	if r == nil || !r.limit.Enabled() {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	return r.obtain(source).Allow()
}

func (r *RateLimiter) obtain(source string) *rate.Limiter {
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.visitors {
		if now.Sub(v.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
	if v, ok := r.visitors[source]; ok {
		v.lastSeen = now
		return v.limiter
	}
	burst := r.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r.limit.RequestsPerMinute/60.0), burst)
	r.visitors[source] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

// Middleware rejects over-limit clients with a JSON-RPC error before the body
// is read.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		source := clientSource(req)
		if !r.Allow(source) {
			observability.RPC().RecordThrottle("rate_limit")
			r.logger.Warn("rpc client throttled", slog.String("source", source))
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusTooManyRequests, nil, CodeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func clientSource(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if candidate := strings.TrimSpace(first); candidate != "" {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
