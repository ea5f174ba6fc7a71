package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if key := KeyByUserOrIP()(c); !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("anonymous request should key by IP, got %q", key)
	}

	c.Set("userID", "alice")
	if key := KeyByUserOrIP()(c); key != "user:alice" {
		t.Fatalf("authenticated request should key by user, got %q", key)
	}
}

func TestRateLimiter_BucketReuseAndBurstFloor(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst <= 0 must coerce to 1, got %d", rl.burst)
	}

	lim := rl.take("k1")
	if lim == nil {
		t.Fatalf("expected a limiter")
	}
	if rl.take("k1") != lim {
		t.Fatalf("same key must reuse the same bucket")
	}
}

func TestRateLimiter_IdleEviction(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.buckets["stale"] = &bucket{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	rl.lookups = gcEvery - 1
	rl.mu.Unlock()

	// The sweep runs before the fetched key is touched, so a stale bucket is
	// evicted even when it is the one being requested.
	_ = rl.take("fresh")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["stale"]; ok {
		t.Fatalf("stale bucket survived the sweep")
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Fatalf("fresh bucket missing after lookup")
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatalf("bypass must default to false")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("flagged request must bypass")
	}
	// A mistyped context value reads as false rather than panicking.
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool flag must read as false")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// burst 1 at 1 rps: the first request passes, an immediate second does not.
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	if w := serve(r, http.MethodGet, "/ok"); w.Code != http.StatusOK {
		t.Fatalf("first request: %d, want 200", w.Code)
	}

	w := serve(r, http.MethodGet, "/ok")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want 1", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected envelope: %v", body)
	}

	// A replay flag set upstream skips the exhausted bucket entirely.
	rBypass := gin.New()
	rBypass.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	rBypass.Use(rl.Handler())
	rBypass.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	if w := serve(rBypass, http.MethodGet, "/ok"); w.Code != http.StatusOK {
		t.Fatalf("bypassed request: %d, want 200", w.Code)
	}
}
