package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func rateMw(perSecond float64, burst int) func(http.Handler) http.Handler {
	return NewRateLimiter(WithLimit(perSecond, burst), WithTTL(5*time.Minute)).Middleware()
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.RemoteAddr = addr
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsRequestUnderLimit(t *testing.T) {
	middleware := rateMw(100, 200)

	handlerCalled := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if !handlerCalled {
		t.Error("expected handler to be called")
	}
}

func TestRateLimitMiddleware_RejectsRequestOverLimit(t *testing.T) {
	handler := rateMw(1, 1)(okHandler())

	// First request should succeed (uses the burst)
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, requestFrom("10.0.0.1:5000"))
	if rr1.Code != http.StatusOK {
		t.Errorf("first request: got status %d, want %d", rr1.Code, http.StatusOK)
	}

	// Second request should be rate limited (burst exhausted), even from another port
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, requestFrom("10.0.0.1:5001"))
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want %d", rr2.Code, http.StatusTooManyRequests)
	}
	if retryAfter := rr2.Header().Get("Retry-After"); retryAfter != "1" {
		t.Errorf("got Retry-After %q, want %q", retryAfter, "1")
	}
}

func TestRateLimitMiddleware_IndependentLimitsPerClient(t *testing.T) {
	handler := rateMw(1, 1)(okHandler())

	// Exhaust client A's limit
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:5000"))
	rrA2 := httptest.NewRecorder()
	handler.ServeHTTP(rrA2, requestFrom("10.0.0.1:5000"))

	if rrA2.Code != http.StatusTooManyRequests {
		t.Errorf("client A second request: got status %d, want %d", rrA2.Code, http.StatusTooManyRequests)
	}

	// Client B should still be able to make requests
	rrB := httptest.NewRecorder()
	handler.ServeHTTP(rrB, requestFrom("10.0.0.2:5000"))

	if rrB.Code != http.StatusOK {
		t.Errorf("client B request: got status %d, want %d", rrB.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_UnlimitedWhenRateLimitZero(t *testing.T) {
	middleware := rateMw(0, 0)

	handlerCallCount := 0
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// Make many requests - all should succeed
	for i := range 10 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))

		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 10 {
		t.Errorf("expected 10 handler calls, got %d", handlerCallCount)
	}
}

func TestRateLimiter_ExpiredBucketIsReplaced(t *testing.T) {
	now := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(WithLimit(1, 1), WithTTL(time.Minute))
	rl.now = func() time.Time { return now }
	handler := rl.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:5000"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusTooManyRequests)
	}

	now = now.Add(2 * time.Minute)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))
	if rr.Code != http.StatusOK {
		t.Errorf("after ttl: got status %d, want %d", rr.Code, http.StatusOK)
	}
}
