package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	t.Cleanup(rl.Stop)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.1:12345").Code, "request %d", i+1)
	}

	w := serveFrom(handler, "192.168.1.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestRateLimiterDifferentIPs(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	t.Cleanup(rl.Stop)
	handler := rl.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.1:12345").Code)
	assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.2:12345").Code, "each client has its own bucket")
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(handler, "192.168.1.1:12345").Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "forwarded for single", headers: map[string]string{"X-Forwarded-For": "203.0.113.1"}, remoteAddr: "10.0.0.1:1", want: "203.0.113.1"},
		{name: "forwarded for chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, remoteAddr: "10.0.0.1:1", want: "203.0.113.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 203.0.113.7 "}, remoteAddr: "10.0.0.1:1", want: "203.0.113.7"},
		{name: "forwarded wins over real ip", headers: map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.2"}, want: "203.0.113.1"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:8080", want: "[2001:db8::1]"},
		{name: "no port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

func TestRateLimiterWithCustomKeyFunc(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	t.Cleanup(rl.Stop)

	byToken := func(r *http.Request) string { return r.Header.Get("X-Api-Key") }
	handler := rl.MiddlewareWithKeyFunc(byToken)(okHandler())

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Api-Key", key)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("alpha"))
	assert.Equal(t, http.StatusOK, send("beta"))
	assert.Equal(t, http.StatusTooManyRequests, send("alpha"))
}

func TestRateLimiter_RemoveIdle(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	t.Cleanup(rl.Stop)

	rl.getLimiter("stale")
	rl.getLimiter("fresh")

	rl.mu.Lock()
	rl.limiters["stale"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	assert.Equal(t, 1, rl.removeIdle(time.Now()))
	assert.Equal(t, []string{"fresh"}, rl.GetTrackedIPs())
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestRateLimiter_GetRateLimitInfo(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	t.Cleanup(rl.Stop)
	handler := rl.Middleware(okHandler())

	serveFrom(handler, "192.168.1.1:1")
	serveFrom(handler, "192.168.1.1:1")

	info := rl.GetRateLimitInfo("192.168.1.1")
	assert.Equal(t, "192.168.1.1", info.IP)
	assert.Equal(t, 5, info.Burst)
	assert.Equal(t, 10.0, info.Limit)
	assert.Less(t, info.TokensRemaining, 5.0)

	untracked := rl.GetRateLimitInfo("10.9.9.9")
	assert.Equal(t, 5.0, untracked.TokensRemaining)
}

func TestRateLimiter_StatsHandler(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	t.Cleanup(rl.Stop)
	handler := rl.Middleware(okHandler())
	serveFrom(handler, "192.168.1.1:1")
	serveFrom(handler, "192.168.1.2:1")

	t.Run("all", func(t *testing.T) {
		w := httptest.NewRecorder()
		rl.StatsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rate-limit-stats", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var stats map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, 2.0, stats["total_tracked_ips"])
		cfg := stats["rate_limit_config"].(map[string]interface{})
		assert.Equal(t, 10.0, cfg["requests_per_second"])
		assert.Equal(t, 5.0, cfg["burst"])
	})

	t.Run("single", func(t *testing.T) {
		w := httptest.NewRecorder()
		rl.StatsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rate-limit-stats?ip=192.168.1.1", nil))

		var info RateLimitInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
		assert.Equal(t, "192.168.1.1", info.IP)
	})
}
