package httpserver

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/ingestmesh/internal/telemetry/logger"
	"github.com/yndnr/ingestmesh/internal/telemetry/metric"
)

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID tags each request with an ID, reusing X-Request-ID when the
// client sends one. The ID is stored as the connection ID so gateway
// logs carry it.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = newRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(logger.WithConnID(r.Context(), id)))
		})
	}
}

func newRequestID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "req-unknown"
	}
	return id.String()
}

// Recover recovers from panics and returns 500.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.ErrorContext(r.Context(), "panic recovered",
						"error", err,
						"path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// maxTrackedIPs bounds the limiter registry. Idle limiters are pruned
// once it is exceeded.
const maxTrackedIPs = 10000

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterRegistry holds one token bucket per client IP.
type limiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*ipLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

func newLimiterRegistry(perSecond int) *limiterRegistry {
	return &limiterRegistry{
		limiters: make(map[string]*ipLimiter),
		limit:    rate.Limit(perSecond),
		burst:    perSecond,
		idle:     3 * time.Minute,
	}
}

// Allow reports whether ip may proceed now.
func (r *limiterRegistry) Allow(ip string) bool {
	now := time.Now()

	r.mu.RLock()
	l, ok := r.limiters[ip]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if l, ok = r.limiters[ip]; !ok {
			if len(r.limiters) >= maxTrackedIPs {
				r.pruneLocked(now)
			}
			l = &ipLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
			r.limiters[ip] = l
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	l.lastSeen = now
	r.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}

func (r *limiterRegistry) pruneLocked(now time.Time) {
	for ip, l := range r.limiters {
		if now.Sub(l.lastSeen) > r.idle {
			delete(r.limiters, ip)
		}
	}
}

func (r *limiterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// RateLimit limits requests per client IP. Rejected requests get 429 and
// are counted as rate_limited connection rejections.
func RateLimit(perSecond int, reg *metric.Registry) Middleware {
	limits := newLimiterRegistry(perSecond)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limits.Allow(clientIP(r)) {
				reg.ConnectionRejected("rate_limited")
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// clientIP returns the host part of RemoteAddr. Forwarding headers are
// ignored so clients cannot pick their own rate limit bucket.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
