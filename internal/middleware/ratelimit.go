package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fundly/pkg/logger"
)

// RateLimiter applies a fixed-window rate limit backed by Redis.
type RateLimiter struct {
	cache  *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger logger.Logger
}

func NewRateLimiter(cache *redis.Client, limit int, window time.Duration, prefix string, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		cache:  cache,
		limit:  limit,
		window: window,
		prefix: prefix,
		logger: log,
	}
}

// Limit enforces the rate limit, keyed by client IP and, when available, user ID.
// Redis failures let the request through.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ratelimit:%s:%s", rl.prefix, clientIP(r))
		if userID, ok := UserIDFromContext(r.Context()); ok && userID != uuid.Nil {
			key += ":" + userID.String()
		}

		count, err := rl.cache.Incr(r.Context(), key).Result()
		if err != nil {
			rl.logger.Warn("Rate limiter unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			if err := rl.cache.Expire(r.Context(), key, rl.window).Err(); err != nil {
				rl.logger.Warn("Failed to set rate limit window", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
		if count > int64(rl.limit) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.limit-int(count)))

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
