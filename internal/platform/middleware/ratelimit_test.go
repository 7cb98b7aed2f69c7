package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eczane/eczane/internal/platform/auth"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newLimitedHandler(cfg RateLimitConfig) (echo.HandlerFunc, *limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(cfg, clock.now)
	h := rateLimit(l)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return h, l, clock
}

func doLimited(h echo.HandlerFunc, method, userID string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(method, "/api/v1/patient/orders", nil)
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, []string{auth.RolePatient}))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return http.StatusOK
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	return he.Code
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	h, _, _ := newLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		rec, err := doLimited(h, http.MethodGet, "u1")
		if code := statusOf(t, err); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("X-RateLimit-Limit = %q, want 3", got)
		}
	}

	rec, err := doLimited(h, http.MethodGet, "u1")
	if code := statusOf(t, err); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRateLimit_Refills(t *testing.T) {
	h, _, clock := newLimitedHandler(RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1})

	if _, err := doLimited(h, http.MethodGet, "u1"); statusOf(t, err) != http.StatusOK {
		t.Fatal("first request should pass")
	}
	if _, err := doLimited(h, http.MethodGet, "u1"); statusOf(t, err) != http.StatusTooManyRequests {
		t.Fatal("second request should be limited")
	}
	clock.advance(500 * time.Millisecond)
	if _, err := doLimited(h, http.MethodGet, "u1"); statusOf(t, err) != http.StatusOK {
		t.Fatal("request after refill should pass")
	}
}

func TestRateLimit_WritesCostMore(t *testing.T) {
	h, _, _ := newLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 4, WriteCost: 2})

	for i := 0; i < 2; i++ {
		if _, err := doLimited(h, http.MethodPost, "u1"); statusOf(t, err) != http.StatusOK {
			t.Fatalf("write %d should pass", i+1)
		}
	}
	rec, err := doLimited(h, http.MethodPost, "u1")
	if statusOf(t, err) != http.StatusTooManyRequests {
		t.Fatal("third write should be limited")
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
}

func TestRateLimit_PerUserIsolation(t *testing.T) {
	h, _, _ := newLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := doLimited(h, http.MethodGet, "u1"); statusOf(t, err) != http.StatusOK {
		t.Fatal("u1 first request should pass")
	}
	if _, err := doLimited(h, http.MethodGet, "u1"); statusOf(t, err) != http.StatusTooManyRequests {
		t.Fatal("u1 second request should be limited")
	}
	if _, err := doLimited(h, http.MethodGet, "u2"); statusOf(t, err) != http.StatusOK {
		t.Fatal("u2 should have its own bucket")
	}
	if _, err := doLimited(h, http.MethodGet, ""); statusOf(t, err) != http.StatusOK {
		t.Fatal("anonymous caller should be keyed by ip")
	}
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	cfg := RateLimitConfig{}.withDefaults()
	if cfg.RequestsPerSecond != 20 || cfg.BurstSize != 40 || cfg.WriteCost != 2 || cfg.IdleTTL != 10*time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLimiter_SweepsIdleBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(RateLimitConfig{IdleTTL: time.Minute}, clock.now)
	l.take("user:old", 1)
	clock.advance(2 * time.Minute)
	for i := 0; i < 1023; i++ {
		l.take("user:new", 0)
	}
	if got := l.size(); got != 1 {
		t.Errorf("expected idle bucket to be swept, %d buckets left", got)
	}
}
