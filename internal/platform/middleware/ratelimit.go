package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eczane/eczane/internal/platform/auth"
)

// RateLimitConfig sets one token bucket per caller. Reads cost one token;
// state-changing requests cost WriteCost tokens.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	WriteCost         float64
	IdleTTL           time.Duration
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 40
	}
	if c.WriteCost < 1 {
		c.WriteCost = 2
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	return c
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type limiter struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
}

func newLimiter(cfg RateLimitConfig, now func() time.Time) *limiter {
	return &limiter{cfg: cfg.withDefaults(), now: now, buckets: make(map[string]*bucket)}
}

// take spends cost tokens from key's bucket. When the bucket is short it
// reports how long until cost tokens are available.
func (l *limiter) take(key string, cost float64) (ok bool, remaining float64, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%1024 == 0 {
		l.sweep(now)
	}

	burst := float64(l.cfg.BurstSize)
	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: burst, lastSeen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(burst, b.tokens+now.Sub(b.lastSeen).Seconds()*l.cfg.RequestsPerSecond)
	b.lastSeen = now

	if b.tokens >= cost {
		b.tokens -= cost
		return true, b.tokens, 0
	}
	missing := cost - b.tokens
	return false, b.tokens, time.Duration(missing / l.cfg.RequestsPerSecond * float64(time.Second))
}

func (l *limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, k)
		}
	}
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit throttles per authenticated user, or per client IP for anonymous
// requests. It must run after authentication.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(newLimiter(cfg, time.Now))
}

func rateLimit(l *limiter) echo.MiddlewareFunc {
	limit := strconv.Itoa(l.cfg.BurstSize)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}
			cost := 1.0
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				cost = l.cfg.WriteCost
			}

			ok, remaining, wait := l.take(key, cost)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return echo.NewHTTPError(http.StatusTooManyRequests, "çok fazla istek, lütfen daha sonra tekrar deneyin")
			}
			return next(c)
		}
	}
}
