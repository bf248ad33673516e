package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type stubLimiter struct {
	result RateLimitResult
	err    error
	keys   []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	s.keys = append(s.keys, key)
	return s.result, s.err
}

func rateLimitedServer(t *testing.T, limiter RateLimitStore) *Server {
	t.Helper()
	srv := newTestServer(t)
	srv.RateLimiter = limiter
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Post("/events", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
		r.Get("/events", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	})
	srv.MountRoutes()
	return srv
}

func TestRateLimit_Denied(t *testing.T) {
	limiter := &stubLimiter{result: RateLimitResult{Allowed: false, Limit: 10, RetryAfter: 1500 * time.Millisecond}}
	srv := rateLimitedServer(t, limiter)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := serve(srv, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining = %q", got)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "203.0.113.9" {
		t.Errorf("keys = %v", limiter.keys)
	}
	if decodeError(t, rec).Code != string(errCodeRateLimited) {
		t.Error("wrong error code")
	}
}

func TestRateLimit_SafeMethodsBypass(t *testing.T) {
	limiter := &stubLimiter{result: RateLimitResult{Allowed: false}}
	srv := rateLimitedServer(t, limiter)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(limiter.keys) != 0 {
		t.Error("limiter consulted for GET")
	}
}

func TestRateLimit_StoreErrorFailsOpen(t *testing.T) {
	srv := rateLimitedServer(t, &stubLimiter{err: errors.New("backend down")})

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/v1/events", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestMemoryRateLimitStore_Burst(t *testing.T) {
	store := NewMemoryRateLimitStore(1, 3)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := store.Allow(ctx, "a")
		if err != nil || !res.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, res.Allowed, err)
		}
		if res.Remaining != 2-i {
			t.Errorf("request %d: remaining = %d, want %d", i, res.Remaining, 2-i)
		}
	}

	res, _ := store.Allow(ctx, "a")
	if res.Allowed {
		t.Fatal("fourth request should be denied")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}

	// Keys are independent.
	if res, _ := store.Allow(ctx, "b"); !res.Allowed {
		t.Error("other key should be allowed")
	}

	now = now.Add(time.Second)
	if res, _ := store.Allow(ctx, "a"); !res.Allowed {
		t.Error("token should refill after one second")
	}
}

func TestMemoryRateLimitStore_EvictsIdle(t *testing.T) {
	store := NewMemoryRateLimitStore(1, 1)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, _ = store.Allow(context.Background(), "old")
	now = now.Add(time.Hour)
	_, _ = store.Allow(context.Background(), "new")

	if _, ok := store.buckets["old"]; ok {
		t.Error("idle bucket not evicted")
	}
	if len(store.buckets) != 1 {
		t.Errorf("buckets = %d, want 1", len(store.buckets))
	}
}
