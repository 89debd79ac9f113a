package middleware

import (
	"context"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/bookshelf/api/pkg/response"
)

// Static asset routes skip the request limiter
var exemptPaths = []*regexp.Regexp{
	regexp.MustCompile(`^/api/books/[^/]+/thumbnail/?$`),
	regexp.MustCompile(`^/api/books/[^/]+/pdf/?$`),
	regexp.MustCompile(`^/api/books/[^/]+/pages/[^/]+/audio/?$`),
}

func isExempt(path string) bool {
	for _, re := range exemptPaths {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// ClientIP returns the first X-Forwarded-For entry, else the remote address
func ClientIP(c *fiber.Ctx) string {
	if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	return c.IP()
}

type tokenBucket struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	lastAccess time.Time
}

func (b *tokenBucket) touch(now time.Time) {
	b.mu.Lock()
	b.lastAccess = now
	b.mu.Unlock()
}

func (b *tokenBucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAccess.Before(cutoff)
}

// TokenBucketLimiter allows each client IP a steady number of API requests
// per minute with bursts up to the same amount.
type TokenBucketLimiter struct {
	capacity int
	limit    rate.Limit
	idle     time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	buckets map[string]*tokenBucket

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTokenBucketLimiter creates a limiter and starts its sweep goroutine.
// Buckets unused for longer than cleanupInterval are evicted.
func NewTokenBucketLimiter(requestsPerMinute int, cleanupInterval time.Duration) *TokenBucketLimiter {
	l := newTokenBucketLimiter(requestsPerMinute, cleanupInterval, time.Now)
	go l.sweepLoop()
	return l
}

func newTokenBucketLimiter(requestsPerMinute int, cleanupInterval time.Duration, now func() time.Time) *TokenBucketLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &TokenBucketLimiter{
		capacity: requestsPerMinute,
		limit:    rate.Limit(float64(requestsPerMinute) / 60),
		idle:     cleanupInterval,
		now:      now,
		buckets:  make(map[string]*tokenBucket),
		stop:     make(chan struct{}),
	}
}

func (l *TokenBucketLimiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &tokenBucket{
		limiter:    rate.NewLimiter(l.limit, l.capacity),
		lastAccess: l.now(),
	}
	l.buckets[key] = b
	return b
}

// Allow takes a token for key. When none is left it returns false and how
// long until one is available.
func (l *TokenBucketLimiter) Allow(key string) (bool, float64, time.Duration) {
	b := l.bucket(key)
	now := l.now()
	b.touch(now)

	if b.limiter.AllowN(now, 1) {
		return true, b.limiter.TokensAt(now), 0
	}

	tokens := b.limiter.TokensAt(now)
	wait := math.Ceil((1 - tokens) / float64(l.limit))
	if wait < 1 {
		wait = 1
	}
	return false, tokens, time.Duration(wait) * time.Second
}

// Handler guards every /api/ route except static assets
func (l *TokenBucketLimiter) Handler() fiber.Handler {
	limit := fmt.Sprintf("%d", l.capacity)
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if !strings.HasPrefix(path, "/api/") || isExempt(path) {
			return c.Next()
		}

		ip := ClientIP(c)
		ok, remaining, retryAfter := l.Allow(ip)
		c.Set("X-RateLimit-Limit", limit)
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(remaining)))
		if !ok {
			log.Printf("[RateLimit] Rejected %s %s from %s", c.Method(), path, ip)
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(retryAfter.Seconds())))
			return response.RateLimited(c)
		}
		return c.Next()
	}
}

// Sweep evicts buckets idle for longer than the cleanup interval
func (l *TokenBucketLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.idleSince(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

func (l *TokenBucketLimiter) sweepLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				log.Printf("[RateLimit] Evicted %d idle buckets", n)
			}
		case <-l.stop:
			return
		}
	}
}

// Stop ends the sweep goroutine
func (l *TokenBucketLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// QuotaLimiter caps expensive operations per client IP with fixed redis
// windows. Without redis, or when redis fails, requests pass.
type QuotaLimiter struct {
	redis *redis.Client
}

func NewQuotaLimiter(redisClient *redis.Client) *QuotaLimiter {
	return &QuotaLimiter{redis: redisClient}
}

// Limit creates a quota middleware
func (rl *QuotaLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("quota:%s:%s", keyPrefix, ClientIP(c))
		ctx := context.Background()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			retry := int(ttl.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", retry))
			return response.RateLimited(c)
		}

		c.Set("X-Quota-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-Quota-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))
		return c.Next()
	}
}

// GenerateLimit caps batch generation starts per hour
func (rl *QuotaLimiter) GenerateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("generate", maxPerHour, time.Hour)
}
