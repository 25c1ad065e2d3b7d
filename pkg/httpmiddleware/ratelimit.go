package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures request rate limiting.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyFunc extracts the rate limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// entry tracks two adjacent windows for the sliding window estimate.
type entry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter is a per-process sliding window limiter.
type MemoryLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemoryLimiter creates a MemoryLimiter.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     max,
		window:  window,
		entries: make(map[string]*entry),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{currStart: now}
		l.entries[key] = e
	}

	if now.Sub(e.currStart) >= l.window {
		e.prevCount = e.currCount
		e.prevStart = e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(l.window)
		if now.Sub(e.prevStart) >= 2*l.window {
			e.prevCount = 0
		}
	}

	// Weight the previous window by its overlap with the sliding window.
	elapsed := now.Sub(e.currStart)
	overlap := max(1.0-elapsed.Seconds()/l.window.Seconds(), 0)
	effective := e.prevCount*overlap + e.currCount
	resetAt := e.currStart.Add(l.window)

	if effective >= float64(l.max) {
		return Decision{ResetAt: resetAt}, nil
	}

	e.currCount++
	effective++

	return Decision{
		Allowed:   true,
		Remaining: max(int(float64(l.max)-effective), 0),
		ResetAt:   resetAt,
	}, nil
}

// Cleanup removes entries whose windows have fully expired.
func (l *MemoryLimiter) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if now.Sub(e.currStart) >= 2*l.window {
			delete(l.entries, key)
		}
	}
}

// RunCleanup evicts expired entries every two windows until ctx is done.
func (l *MemoryLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Cleanup(now)
		}
	}
}

var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter is a fixed window limiter shared by every replica.
type RedisLimiter struct {
	client redis.UniversalClient
	max    int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a RedisLimiter storing counters under prefix.
func NewRedisLimiter(client redis.UniversalClient, max int, window time.Duration, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, max: max, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	resetAt := start.Add(l.window)
	redisKey := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.PExpireAt(ctx, redisKey, resetAt.Add(time.Second))
		return nil
	}); err != nil {
		return Decision{}, errors.Wrap(err, "incr window")
	}

	count := int(incr.Val())
	if count > l.max {
		return Decision{ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: l.max - count, ResetAt: resetAt}, nil
}

// RateLimit enforces cfg.Max requests per window and key using the in-memory
// limiter. Stale entries are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewMemoryLimiter(cfg.Max, cfg.Window)
	go l.RunCleanup(ctx)
	return RateLimitWith(l, cfg)
}

// RateLimitWith enforces the limit through l. Every response carries the
// X-RateLimit-* headers; rejected requests get a JSON 429. Requests are let
// through when the limiter itself fails.
func RateLimitWith(l Limiter, cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := l.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(d.ResetAt.Sub(now), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", RequestIDFromContext(r.Context()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
