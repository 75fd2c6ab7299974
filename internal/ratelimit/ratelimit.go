// Package ratelimit is a best-effort fixed-window request limiter on Redis.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// counter is the subset of *redis.Client the limiter needs.
type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Limiter allows Limit requests per caller per Window. Callers are keyed by
// x-user-id, or by client IP for anonymous requests.
type Limiter struct {
	rdb    counter
	Limit  int64
	Window time.Duration
	log    *zap.Logger
}

// New returns a Limiter allowing perMinute requests per minute.
func New(rdb counter, perMinute int, log *zap.Logger) *Limiter {
	return &Limiter{rdb: rdb, Limit: int64(perMinute), Window: time.Minute, log: log}
}

// Allow counts one request for key. Redis failures let the request through.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l.Limit <= 0 {
		return true
	}
	k := fmt.Sprintf("ratelimit:placement:%s", key)

	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		l.log.Warn("rate limit counter unavailable", zap.Error(err))
		return true
	}
	if count == 1 {
		// a counter without a TTL would never reset
		if err := l.rdb.Expire(ctx, k, l.Window).Err(); err != nil {
			l.log.Warn("rate limit window not set, dropping counter", zap.String("key", k), zap.Error(err))
			if err := l.rdb.Del(ctx, k).Err(); err != nil {
				l.log.Warn("rate limit counter not dropped", zap.String("key", k), zap.Error(err))
			}
			return true
		}
	}
	return count <= l.Limit
}

// Middleware rejects callers over the limit with 429. Paths in skip are
// never limited.
func (l *Limiter) Middleware(next http.Handler, skip ...string) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipped[r.URL.Path] || l.Allow(r.Context(), callerKey(r)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(int(l.Window.Seconds())))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

func callerKey(r *http.Request) string {
	if id := r.Header.Get("x-user-id"); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
