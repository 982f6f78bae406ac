package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		if !limiter.allow("192.0.2.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.0.2.1") {
		t.Error("sixth request should be rejected")
	}

	// A different IP has its own bucket.
	if !limiter.allow("192.0.2.2") {
		t.Error("other IP should be allowed")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(1, window)

	if !limiter.allow("192.0.2.1") {
		t.Fatal("first request should be allowed")
	}
	if limiter.allow("192.0.2.1") {
		t.Fatal("second request should be rejected")
	}

	time.Sleep(window + 20*time.Millisecond)

	if !limiter.allow("192.0.2.1") {
		t.Error("request after window reset should be allowed")
	}
}

func TestRateLimiterSweepRemovesExpired(t *testing.T) {
	limiter := NewRateLimiter(10, 50*time.Millisecond)

	now := time.Now()
	limiter.buckets["expired"] = &bucket{count: 5, resetAt: now.Add(-time.Second)}
	limiter.buckets["active"] = &bucket{count: 3, resetAt: now.Add(time.Minute)}

	limiter.sweep(now)

	if _, exists := limiter.buckets["expired"]; exists {
		t.Error("expired entry should have been removed")
	}
	if _, exists := limiter.buckets["active"]; !exists {
		t.Error("active entry should remain")
	}
}

func TestRateLimiterMapStaysBounded(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(10, window)

	for i := 0; i < 300; i++ {
		limiter.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}

	time.Sleep(window + 20*time.Millisecond)

	for i := 0; i < 100; i++ {
		limiter.allow("192.0.2.1")
	}

	if len(limiter.buckets) > 50 {
		t.Errorf("map size (%d) suggests expired entries are not swept", len(limiter.buckets))
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request should be limited, got %d", codes[2])
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ClientIP(req); got != "192.0.2.1:1234" {
		t.Errorf("ClientIP = %q, want remote addr", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want first forwarded entry", got)
	}
}

func TestReadBodyStrict(t *testing.T) {
	t.Run("reads body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))
		body, err := ReadBodyStrict(httptest.NewRecorder(), req, 64)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != "payload" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		if _, err := ReadBodyStrict(httptest.NewRecorder(), req, 64); err == nil {
			t.Error("expected error for empty body")
		}
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 65)))
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 64)
		if err == nil {
			t.Fatal("expected error for oversized body")
		}
		if !strings.Contains(err.Error(), "payload too large") {
			t.Errorf("error = %v, want payload too large", err)
		}
	})
}
