package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func limiterFixture(t *testing.T, limit int) http.Handler {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultRateLimitConfig(client)
	cfg.Limit = limit
	cfg.Window = time.Minute
	return RateLimit(cfg)(okHandler())
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/albums", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitAllowsWithinLimit(t *testing.T) {
	h := limiterFixture(t, 3)

	for i := 0; i < 3; i++ {
		if rec := hit(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	h := limiterFixture(t, 2)

	hit(h, "10.0.0.1:1234")
	hit(h, "10.0.0.1:1234")

	rec := hit(h, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimitKeysByClientIP(t *testing.T) {
	h := limiterFixture(t, 1)

	if rec := hit(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first client: got %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.1:9999"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("same ip different port: got %d, want 429", rec.Code)
	}
	if rec := hit(h, "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other client: got %d, want 200", rec.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultRateLimitConfig(client)
	cfg.Limit = 1
	h := RateLimit(cfg)(okHandler())

	// With Redis down, requests pass through rather than failing.
	mr.Close()
	if rec := hit(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Errorf("status with limiter down: got %d, want 200", rec.Code)
	}
}
