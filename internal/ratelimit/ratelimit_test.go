package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashita-ai/kioku/internal/model"
)

func TestResultFormatHeaders(t *testing.T) {
	result := Result{Allowed: true, Limit: 100, Remaining: 42}

	headers := result.FormatHeaders()
	if headers["X-RateLimit-Limit"] != "100" {
		t.Fatalf("X-RateLimit-Limit = %q, want 100", headers["X-RateLimit-Limit"])
	}
	if headers["X-RateLimit-Remaining"] != "42" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 42", headers["X-RateLimit-Remaining"])
	}
}

func TestResultRetrySeconds(t *testing.T) {
	cases := []struct {
		retryAfter time.Duration
		want       int
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{time.Second, 1},
		{1100 * time.Millisecond, 2},
		{3 * time.Second, 3},
	}
	for _, tc := range cases {
		got := Result{RetryAfter: tc.retryAfter}.RetrySeconds()
		if got != tc.want {
			t.Errorf("RetrySeconds(%v) = %d, want %d", tc.retryAfter, got, tc.want)
		}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsUnderLimit(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	rule := queryRule(10, 5)
	handler := Middleware(m, rule, IPKeyFunc, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 4", got)
	}
}

func TestMiddlewareDeniesOverLimit(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	rule := queryRule(0.1, 1)
	reqID := func(*http.Request) string { return "req-123" }
	handler := Middleware(m, rule, IPKeyFunc, reqID)(okHandler())

	// httptest stamps every request with the same RemoteAddr, so the
	// second request hits an empty bucket.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response must carry Retry-After")
	}

	var body model.APIError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if body.Error.Code != model.ErrCodeRateLimited {
		t.Fatalf("error code = %q, want %q", body.Error.Code, model.ErrCodeRateLimited)
	}
	if body.Meta.RequestID != "req-123" {
		t.Fatalf("request id = %q, want req-123", body.Meta.RequestID)
	}
}

func TestMiddlewareSkipsWhenKeyEmpty(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	noKey := func(*http.Request) string { return "" }
	handler := Middleware(m, queryRule(0.1, 1), noKey, nil)(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 (unkeyed requests skip the limit)", i, rec.Code)
		}
	}
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	handler := Middleware(nil, queryRule(0.1, 1), IPKeyFunc, nil)(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestIPKeyFunc(t *testing.T) {
	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:8080", "[2001:db8::1]"},
		{"192.0.2.1", "192.0.2.1"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tc.remoteAddr
		if got := IPKeyFunc(r); got != tc.want {
			t.Errorf("IPKeyFunc(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}
