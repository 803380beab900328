package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatbattles/chatbattles/internal/auth"
)

func TestMiddleware_AllowsRequest(t *testing.T) {
	limiter := NewLimiter(nil)
	mw := Middleware(limiter, 10, nil)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/battle", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	if h := rec.Header().Get(headerRateLimitRequests); h != "10" {
		t.Errorf("expected X-RateLimit-Limit-Requests=10, got %s", h)
	}
	if h := rec.Header().Get(headerRateLimitRemainingRequests); h == "" {
		t.Error("expected X-RateLimit-Remaining-Requests header")
	}
	if h := rec.Header().Get(headerRateLimitReset); h == "" {
		t.Error("expected X-RateLimit-Reset-Requests header")
	}
}

func TestIdentity_AuthenticatedUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/battle", nil)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), &auth.Identity{UserID: "user-7"}))

	if got := Identity(req); got != "user:user-7" {
		t.Errorf("expected user bucket, got %q", got)
	}
}

func TestIdentity_AnonymousFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/battle", nil)
	req.RemoteAddr = "203.0.113.9:51234"

	if got := Identity(req); got != "ip:203.0.113.9" {
		t.Errorf("expected ip bucket, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	if got := Identity(req); got != "ip:198.51.100.4" {
		t.Errorf("expected first forwarded hop, got %q", got)
	}
}

func TestWriteRejection(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRejection(rec, Rejection{
		Allowed:   false,
		Message:   "Rate limit exceeded: 10 requests per minute.",
		Remaining: 0,
		Limit:     10,
		ResetAt:   "2026-01-01T00:00:00Z",
	})

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}

	var rej Rejection
	if err := json.NewDecoder(rec.Body).Decode(&rej); err != nil {
		t.Fatalf("failed to decode rejection: %v", err)
	}
	if rej.Allowed {
		t.Error("expected allowed=false")
	}
	if rej.Limit != 10 {
		t.Errorf("expected limit=10, got %d", rej.Limit)
	}
}
