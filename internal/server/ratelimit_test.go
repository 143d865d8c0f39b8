package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow_WithinLimitThenRejects(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	ip := "203.0.113.10"

	if !rl.Allow(ip) {
		t.Fatal("expected first request to be allowed")
	}
	if !rl.Allow(ip) {
		t.Fatal("expected second request to be allowed")
	}
	if rl.Allow(ip) {
		t.Fatal("expected third request to be rejected")
	}
}

func TestRateLimiterAllow_PrunesExpiredAttempts(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ip := "203.0.113.20"
	rl.attempts[ip] = []time.Time{time.Now().Add(-2 * time.Minute)}

	if !rl.Allow(ip) {
		t.Fatal("expected request to be allowed after expired attempt is pruned")
	}
	if got := len(rl.attempts[ip]); got != 1 {
		t.Fatalf("expected one retained attempt, got %d", got)
	}
}

func TestRateLimiterAllow_EvictsIdleIPs(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	rl.attempts["203.0.113.40"] = []time.Time{time.Now().Add(-2 * time.Minute)}
	rl.lastSweep = time.Now().Add(-2 * time.Minute)

	if !rl.Allow("203.0.113.41") {
		t.Fatal("expected fresh IP to be allowed")
	}
	if _, ok := rl.attempts["203.0.113.40"]; ok {
		t.Error("idle IP entry should be evicted by the sweep")
	}
	if _, ok := rl.attempts["203.0.113.41"]; !ok {
		t.Error("active IP entry should survive the sweep")
	}
}

func TestRateLimiterAllow_IndependentIPs(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow("203.0.113.30") {
		t.Fatal("expected first IP to be allowed")
	}
	if !rl.Allow("203.0.113.31") {
		t.Fatal("expected second IP to be allowed independently")
	}
	if rl.Allow("203.0.113.30") {
		t.Fatal("expected first IP to be rejected on second attempt")
	}
}

func TestRateLimiterMiddleware_TooManyRequests(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})
	h := rl.Middleware(next)

	req1 := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", nil)
	req1.RemoteAddr = "198.51.100.5:1234"
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)

	if rec1.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want %d", rec1.Code, http.StatusNoContent)
	}
	if calls != 1 {
		t.Fatalf("next handler calls = %d, want 1", calls)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", nil)
	req2.RemoteAddr = "198.51.100.5:1234"
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
	if calls != 1 {
		t.Fatalf("next handler calls after reject = %d, want 1", calls)
	}
}
