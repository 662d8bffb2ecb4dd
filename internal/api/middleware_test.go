package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/redis"
)

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8:1234"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RateLimitMiddleware(nil, zap.NewNop(), IPKeyFunc)(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/jobs/expiration-scan/run", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func newTestLimiter(t *testing.T, limit int) (*redis.RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := redis.Wrap(rdb, zap.NewNop())
	return redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{Limit: limit, Window: time.Hour}), mr
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2)
	router := NewRouter(NewHandler(zap.NewNop(), &MockRepository{}, &mockJobs{}, nil), limiter, zap.NewNop())

	run := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/jobs/event-lifecycle/run", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := run(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := run()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("expected limit header 2, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if problem := decodeProblem(t, rec); problem.Type != "rate_limit_exceeded" {
		t.Errorf("unexpected problem: %+v", problem)
	}
}

func TestRateLimitMiddleware_ReadsAreNotLimited(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1)
	router := NewRouter(NewHandler(zap.NewNop(), &MockRepository{}, &mockJobs{}, nil), limiter, zap.NewNop())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/jobs", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	mr.Close()

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(handler).ServeHTTP(rec, httptest.NewRequest("POST", "/x", nil))

	if !called || rec.Code != http.StatusOK {
		t.Errorf("request should pass when Redis is down, got %d", rec.Code)
	}
}
