// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/metrics"
)

// ============================================================================
// CORS Middleware
// ============================================================================

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// AllowedOrigins lists allowed origins. "*" allows all.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// MaxAge is the max age (in seconds) for preflight cache.
	MaxAge int
}

// DefaultCORSConfig allows any origin, matching the browser client's
// expectations of the chat backend.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept", "Authorization"},
		MaxAge:         86400,
	}
}

func (c *CORSConfig) allowOrigin(origin string) string {
	for _, allowed := range c.AllowedOrigins {
		switch {
		case allowed == "*":
			return "*"
		case origin != "" && allowed == origin:
			return origin
		case origin != "" && strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, strings.TrimPrefix(allowed, "*")):
			return origin
		}
	}
	return ""
}

// CORSMiddleware sets Access-Control-* headers and answers preflight
// requests.
func CORSMiddleware(config *CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed := config.allowOrigin(r.Header.Get("Origin")); allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
				h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				if allowed != "*" {
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter is a per-IP token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
		lastGC:   time.Now(),
	}
}

// Allow reports whether ip may make a request now.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// PERFORMANCE: sweep idle visitors at most once per idle period.
	if now.Sub(rl.lastGC) > rl.idle {
		for k, v := range rl.limiters {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.limiters, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(GetClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Body Limit Middleware
// ============================================================================

// BodyLimitMiddleware caps request bodies at maxBytes.
func BodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
// It forwards Flush so event streams still reach the client promptly.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware logs every request and records its metrics under the
// matched route pattern.
func LoggingMiddleware(logger zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.RecordRequest(route, strconv.Itoa(wrapped.statusCode), duration)

			ev := logger.Info()
			if wrapped.statusCode >= 500 {
				ev = logger.Error()
			} else if wrapped.statusCode >= 400 {
				ev = logger.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Str("ip", GetClientIP(r)).
				Msg("HTTP_REQUEST")
		})
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error().
						Interface("panic", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Bytes("stack", debug.Stack()).
						Msg("PANIC_RECOVERED")
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Middleware Chain Helper
// ============================================================================

// Chain composes middlewares; the first one listed runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// IP Extraction Helper
// ============================================================================

// trustedProxies may set X-Forwarded-For and X-Real-IP.
var trustedProxies = []string{
	"127.0.0.1/32",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
}

var (
	parsedTrustedProxies []*net.IPNet
	trustedProxiesOnce   sync.Once
)

func isTrustedProxy(ipStr string) bool {
	trustedProxiesOnce.Do(func() {
		for _, cidr := range trustedProxies {
			if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
				parsedTrustedProxies = append(parsedTrustedProxies, ipNet)
			}
		}
	})

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range parsedTrustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func getRemoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// GetClientIP returns the client address. Forwarding headers are honoured
// only when the direct peer is a trusted proxy.
// SECURITY: prevents spoofed headers from dodging the rate limiter.
func GetClientIP(r *http.Request) string {
	connIP := getRemoteIP(r.RemoteAddr)
	if !isTrustedProxy(connIP) {
		return connIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return connIP
}
