package middlewares

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter counts hits for a key in a fixed window. retryAfter is only
// meaningful when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

// MemoryLimiter keeps one window per key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	clients map[string]*clientBucket
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[key]

	if !ok || now.After(b.windowEnd) {
		// drop stale buckets so the map does not grow without bound
		for k, other := range rl.clients {
			if now.After(other.windowEnd) {
				delete(rl.clients, k)
			}
		}
		rl.clients[key] = &clientBucket{count: 1, windowEnd: now.Add(rl.window)}
		return true, 0, nil
	}

	if b.count >= rl.limit {
		return false, b.windowEnd.Sub(now), nil
	}

	b.count++
	return true, 0, nil
}

// RedisLimiter shares the window across every API instance.
type RedisLimiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(rdb redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: "userauth:ratelimit:"}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := rl.prefix + key

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	// NX keeps the first hit's expiry, giving a fixed window
	pipe.ExpireNX(ctx, k, rl.window)
	ttl := pipe.PTTL(ctx, k)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if incr.Val() > int64(rl.limit) {
		return false, ttl.Val(), nil
	}
	return true, 0, nil
}

// RateLimit rejects a client once it exceeds the limiter's budget. A limiter
// error lets the request through; locking everyone out because Redis blinked
// is worse than a missed count.
func RateLimit(log *slog.Logger, l Limiter, keyFn func(*gin.Context) string) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		allowed, retryAfter, err := l.Allow(c.Request.Context(), c.FullPath()+"|"+key)
		if err != nil {
			log.WarnContext(c.Request.Context(), "rate limiter unavailable", "err", err)
			c.Next()
			return
		}

		if !allowed {
			secs := int(retryAfter.Round(time.Second).Seconds())
			if secs < 0 {
				secs = 0
			}

			c.Header("Retry-After", strconv.Itoa(secs))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests. Please try again shortly.",
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Too many requests. Please try again shortly.",
				},
			})
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
