package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig holds configuration for the Redis-backed rate limiter
type RateLimitConfig struct {
	// Client is the Redis client to use
	Client *redis.Client
	// Limit is the maximum number of requests allowed in the window
	Limit int
	// Window is the time window for rate limiting
	Window time.Duration
	// Prefix is the key prefix for Redis keys
	Prefix string
	// Logger receives limiter errors; limiting fails open on Redis errors
	Logger *zap.Logger
}

// DefaultRateLimitConfig allows 300 requests per minute per client
func DefaultRateLimitConfig(client *redis.Client) RateLimitConfig {
	return RateLimitConfig{
		Client: client,
		Limit:  300,
		Window: time.Minute,
		Prefix: "ratelimit:",
	}
}

// rateLimitScript implements an atomic sliding window over a sorted set
var rateLimitScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
	local current = redis.call('ZCARD', key)
	if current < limit then
		redis.call('ZADD', key, now, now)
		redis.call('EXPIRE', key, window)
		return 1
	end
	return 0
`)

// RateLimit rejects clients exceeding the configured request rate with
// 429. Clients are keyed by remote IP.
func RateLimit(config RateLimitConfig) Middleware {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := config.Prefix + clientIP(r)
			now := time.Now()
			windowStart := now.Add(-config.Window)

			allowed, err := rateLimitScript.Run(r.Context(), config.Client,
				[]string{key},
				now.UnixNano(),
				windowStart.UnixNano(),
				config.Limit,
				int(config.Window.Seconds()),
			).Int()
			if err != nil {
				// Fail open: a limiter outage should not take down the API.
				logger.Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if allowed == 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(config.Window.Seconds())))
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
