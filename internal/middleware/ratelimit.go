// ratelimit.go provides Gin middleware that enforces per-client rate limits,
// returning 429 responses when the configured requests-per-minute threshold
// is exceeded. When Redis is configured the limiter is shared across
// instances via redis_rate's GCRA implementation; otherwise each instance
// falls back to an in-memory token bucket.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/audit-trail/audit-trail/internal/config"
)

// rateLimitEntry tracks the token bucket for a single client.
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// localLimiter is the in-memory fallback token bucket.
type localLimiter struct {
	perMinute int
	burst     int
	entries   map[string]*rateLimitEntry
	mu        sync.Mutex
	stopCh    chan struct{}
}

func newLocalLimiter(perMinute, burst int) *localLimiter {
	l := &localLimiter{
		perMinute: perMinute,
		burst:     burst,
		entries:   make(map[string]*rateLimitEntry),
		stopCh:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup periodically removes buckets that have gone quiet.
func (l *localLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, entry := range l.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *localLimiter) stop() { close(l.stopCh) }

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[key]
	if !ok {
		l.entries[key] = &rateLimitEntry{
			tokens:     float64(l.burst) - 1,
			lastUpdate: now,
		}
		return true
	}

	refill := now.Sub(entry.lastUpdate).Minutes() * float64(l.perMinute)
	entry.tokens += refill
	if entry.tokens > float64(l.burst) {
		entry.tokens = float64(l.burst)
	}
	entry.lastUpdate = now

	if entry.tokens < 1 {
		return false
	}
	entry.tokens--
	return true
}

// RateLimiter gates requests per client key.
type RateLimiter struct {
	cfg    config.RateLimitConfig
	shared *redis_rate.Limiter
	local  *localLimiter
	limit  redis_rate.Limit
}

// NewRateLimiter creates a limiter from the configuration. rdb may be nil;
// the limiter then runs per-instance.
func NewRateLimiter(cfg config.RateLimitConfig, rdb *redis.Client) *RateLimiter {
	rl := &RateLimiter{cfg: cfg}
	if rdb != nil {
		rl.shared = redis_rate.NewLimiter(rdb)
		rl.limit = redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.BurstSize,
			Period: time.Minute,
		}
	} else {
		rl.local = newLocalLimiter(cfg.RequestsPerMinute, cfg.BurstSize)
	}
	return rl
}

// Stop releases the limiter's background resources.
func (rl *RateLimiter) Stop() {
	if rl.local != nil {
		rl.local.stop()
	}
}

// Middleware returns the Gin handler enforcing this limiter. Buckets are
// keyed by client IP; the limiter runs before credential validation, so
// request headers cannot be trusted as bucket keys at this point. A Redis
// outage fails open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.cfg.Enabled {
			c.Next()
			return
		}

		key := c.ClientIP()

		allowed := true
		retryAfter := time.Minute
		if rl.shared != nil {
			res, err := rl.shared.Allow(c.Request.Context(), "ratelimit:"+key, rl.limit)
			if err == nil {
				allowed = res.Allowed > 0
				retryAfter = res.RetryAfter
			}
		} else {
			allowed = rl.local.allow(key)
		}

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
