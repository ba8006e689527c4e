// Package ratelimit throttles login attempts per client with fixed one
// minute windows kept in Redis.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gamereview/apiserver/config"
)

const defaultWindow = time.Minute

// Counter increments a windowed counter and returns its new value.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

// RedisCounter implements Counter on a go-redis client.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to Redis and verifies the connection.
func NewRedisCounter(ctx context.Context, cfg config.RedisConfig) (*RedisCounter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCounter{client: client}, nil
}

// incrWithExpire sets the expiration only on the first increment so a key
// lives exactly one window no matter how often it is hit.
var incrWithExpire = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// IncrWithExpire increments key, starting its expiration on the first hit.
func (c *RedisCounter) IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	return incrWithExpire.Run(ctx, c.client, []string{key}, expiration.Milliseconds()).Int64()
}

// Close closes the Redis client.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// Limiter allows at most limit requests per client in each window.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

// NewLimiter constructs a Limiter keyed under prefix.
func NewLimiter(counter Counter, prefix string, limit int, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		counter: counter,
		limit:   limit,
		window:  defaultWindow,
		prefix:  prefix,
		logger:  logger,
		now:     time.Now,
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Allow counts one request for clientID. The window index is part of the
// key, so each window starts from zero regardless of when keys expire.
func (l *Limiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	now := l.now()
	window := now.Truncate(l.window)
	reset := window.Add(l.window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, clientID, window.Unix())

	count, err := l.counter.IncrWithExpire(ctx, key, l.window)
	if err != nil {
		return Decision{Allowed: true, Reset: reset}, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= l.limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// Middleware rejects requests over the limit with 429. Counter failures let
// the request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := l.Allow(r.Context(), clientIP(r))
		if err != nil {
			l.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(decision.Reset.Sub(l.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
