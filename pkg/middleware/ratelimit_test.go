package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ewers-io/ewers/pkg/contextkeys"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("key-1"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("key-1"))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	assert.True(t, rl.Allow("key-1"))
	assert.False(t, rl.Allow("key-1"))
	assert.True(t, rl.Allow("key-2"))
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Second,
		BurstSize:         0,
	})

	for i := 0; i < 100; i++ {
		rl.Allow("key-1")
	}
	assert.False(t, rl.Allow("key-1"))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.Allow("key-1"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
		BurstSize:         0,
	})

	rl.Allow("stale-key")
	time.Sleep(50 * time.Millisecond)
	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.NotContains(t, rl.buckets, "stale-key")
}

func TestRateLimitMiddlewarePerKey(t *testing.T) {
	m := &RateLimitMiddleware{
		keyLimiter:  NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}),
		anonLimiter: NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}),
	}
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(keyID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
		ctx := contextkeys.WithPrincipal(req.Context(), &contextkeys.Principal{UserID: "user-1", KeyID: keyID})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		return rec
	}

	assert.Equal(t, http.StatusOK, do("key-1").Code)
	assert.Equal(t, http.StatusOK, do("key-1").Code)

	rec := do("key-1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Another key is unaffected
	assert.Equal(t, http.StatusOK, do("key-2").Code)
}

func TestRateLimitMiddlewareAnonymousByIP(t *testing.T) {
	m := &RateLimitMiddleware{
		keyLimiter:  NewRateLimiter(PerKeyRateLimitConfig()),
		anonLimiter: NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}),
	}
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)
}

func TestRateLimitMiddlewareWithConfigAppliesLimits(t *testing.T) {
	anon := &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}
	perKey := &RateLimitConfig{RequestsPerWindow: 7, WindowDuration: time.Minute}
	m := NewRateLimitMiddlewareWithConfig(anon, perKey, nil)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	anonReq := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, anonReq)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	keyReq := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	ctx := contextkeys.WithPrincipal(keyReq.Context(), &contextkeys.Principal{UserID: "user-1", KeyID: "key-1"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, keyReq.WithContext(ctx))
	assert.Equal(t, "7", rec.Header().Get("X-RateLimit-Limit"))

	// Nil configs keep the built-in defaults
	fallback := NewRateLimitMiddlewareWithConfig(nil, nil, nil)
	assert.Equal(t, 100, fallback.anonLimiter.config.RequestsPerWindow)
	assert.Equal(t, 1000, fallback.keyLimiter.config.RequestsPerWindow)
}

func TestRateLimitHeaders(t *testing.T) {
	m := NewRateLimitMiddleware(nil)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}
