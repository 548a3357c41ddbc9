package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByAPIKeyOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	keyFn := KeyByAPIKeyOrIP()

	mk := func(target string, hdr string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
		if hdr != "" {
			req.Header.Set("X-API-Key", hdr)
		}
		c.Request = req
		return c
	}

	if got := keyFn(mk("/api/forms", "")); got != "ip:203.0.113.9" {
		t.Fatalf("ip key = %q", got)
	}
	q := keyFn(mk("/api/forms?api_key=dk_live_abc", ""))
	h := keyFn(mk("/api/forms", "dk_live_abc"))
	if !strings.HasPrefix(q, "key:") || q != h {
		t.Fatalf("query and header keys should match: %q vs %q", q, h)
	}
	if strings.Contains(q, "dk_live_abc") {
		t.Fatalf("raw api key leaked into bucket key: %q", q)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, nil)
	if rl.burst != 1 || rl.keyFn == nil {
		t.Fatalf("burst=%d keyFn nil=%v", rl.burst, rl.keyFn == nil)
	}
	lim := rl.getVisitor("k1")
	if rl.getVisitor("k1") != lim {
		t.Fatal("limiter should be reused per key")
	}
}

func TestRateLimiter_EvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.ttl = time.Nanosecond
	rl.cleanupEvery = 1

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.mu.Unlock()

	_ = rl.getVisitor("new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["old"]; ok {
		t.Fatal("idle visitor not evicted")
	}
	if _, ok := rl.visitors["new"]; !ok {
		t.Fatal("new visitor missing")
	}
}

func TestRateLimiter_Handler_LimitsAndBypassesReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.0001, 1, func(*gin.Context) string { return "same" })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") == "1" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(replay bool) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if replay {
			req.Header.Set("X-Replay", "1")
		}
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(false); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w := do(false)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second = %d retry-after=%q", w.Code, w.Header().Get("Retry-After"))
	}
	if !strings.Contains(w.Body.String(), `"rate_limited"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if w := do(true); w.Code != http.StatusOK {
		t.Fatalf("replay should bypass, got %d", w.Code)
	}
}
