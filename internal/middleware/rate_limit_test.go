package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest("POST", "/test", nil)
	if userID != "" {
		claims := &models.TokenClaims{UserID: userID}
		req = req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
	}
	return req
}

// TestRateLimitByUser_EnforcesLimit verifies the per-user bucket blocks after the limit
func TestRateLimitByUser_EnforcesLimit(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 5})(okHandler())

	for i := 0; i < 5; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, requestAs("user-limit-test"))
		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d, expected 200", i+1, recorder.Code)
		}
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-limit-test"))

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d (too many requests), got %d", http.StatusTooManyRequests, recorder.Code)
	}
}

// TestRateLimitByUser_Returns429JSON verifies the HTTP 429 response format
func TestRateLimitByUser_Returns429JSON(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-429-test"))
	if recorder.Code != http.StatusOK {
		t.Errorf("first request failed with status %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-429-test"))

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
	if body := recorder.Body.String(); body != `{"error":"rate_limit_exceeded","message":"Too many requests"}` {
		t.Errorf("unexpected response body: %s", body)
	}
}

// TestRateLimitByUser_IsolatesUserBuckets verifies separate rate limits per user
func TestRateLimitByUser_IsolatesUserBuckets(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 3})(okHandler())

	for i := 0; i < 3; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, requestAs("user-a-isolation"))
		if recorder.Code != http.StatusOK {
			t.Errorf("user A request %d failed", i+1)
		}
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestAs("user-b-isolation"))

	if recorder.Code != http.StatusOK {
		t.Errorf("user B should have an independent rate limit, got status %d", recorder.Code)
	}
}

// TestRateLimitByUser_FallbackToIPWhenNoClaims verifies fallback to IP keying
func TestRateLimitByUser_FallbackToIPWhenNoClaims(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 100})(okHandler())

	req := requestAs("")
	req.RemoteAddr = "192.168.1.1:8080"
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", recorder.Code)
	}
}

// TestRateLimitByIP_EnforcesLimit verifies the IP-keyed limiter used on the
// public auth endpoints
func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/test", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d", i+1, recorder.Code)
		}
	}

	req := httptest.NewRequest("POST", "/test", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", recorder.Code)
	}
}
