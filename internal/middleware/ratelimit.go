// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning 429
// responses when the configured requests-per-minute threshold is exceeded. Limits are kept
// in Redis when it is configured so every replica shares one budget; otherwise an in-process
// token bucket is used.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/cadogy/cadogy-backend/internal/config"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// Name namespaces the limiter's keys so separate limiters do not share budgets
	Name string
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often the in-memory limiter drops idle entries
	CleanupInterval time.Duration
}

// GeneralRateLimitConfig returns the limit applied to API traffic
func GeneralRateLimitConfig(cfg config.RateLimitingConfig) RateLimitConfig {
	rpm, burst := cfg.RequestsPerMinute, cfg.Burst
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return RateLimitConfig{Name: "api", RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: 5 * time.Minute}
}

// AuthRateLimitConfig returns stricter limits for login, registration and password reset
func AuthRateLimitConfig(cfg config.RateLimitingConfig) RateLimitConfig {
	rpm := cfg.AuthRequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	return RateLimitConfig{Name: "auth", RequestsPerMinute: rpm, BurstSize: max(1, rpm/2), CleanupInterval: 5 * time.Minute}
}

// UploadRateLimitConfig returns limits for avatar uploads
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Name: "upload", RequestsPerMinute: 30, BurstSize: 5, CleanupInterval: 5 * time.Minute}
}

// LimitResult is the outcome of one rate limit check
type LimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (LimitResult, error)
	Limit() int
	Stop()
}

// NewLimiter returns a Redis-backed limiter when rdb is non-nil, otherwise an in-memory one
func NewLimiter(cfg RateLimitConfig, rdb redis.UniversalClient) Limiter {
	if rdb != nil {
		return NewRedisLimiter(cfg, rdb)
	}
	return NewRateLimiter(cfg)
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-memory token bucket rate limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewRateLimiter creates a new in-memory rate limiter with the given config
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  cfg,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes idle entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// Limit returns the configured requests per minute
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

func (rl *RateLimiter) perSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60.0
}

// Allow consumes one token for key when available
func (rl *RateLimiter) Allow(_ context.Context, key string) (LimitResult, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	burst := float64(rl.config.BurstSize)
	entry, exists := rl.entries[key]

	if !exists {
		rl.entries[key] = &rateLimitEntry{tokens: burst - 1, lastUpdate: now}
		return LimitResult{Allowed: true, Remaining: rl.config.BurstSize - 1}, nil
	}

	elapsed := now.Sub(entry.lastUpdate)
	entry.tokens = math.Min(burst, entry.tokens+elapsed.Seconds()*rl.perSecond())
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return LimitResult{Allowed: true, Remaining: int(entry.tokens)}, nil
	}

	wait := time.Duration((1 - entry.tokens) / rl.perSecond() * float64(time.Second))
	return LimitResult{Allowed: false, Remaining: 0, RetryAfter: wait}, nil
}

// RedisLimiter is a GCRA limiter shared across replicas through Redis
type RedisLimiter struct {
	config  RateLimitConfig
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter creates a limiter backed by rdb
func NewRedisLimiter(cfg RateLimitConfig, rdb redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{
		config:  cfg,
		limiter: redis_rate.NewLimiter(rdb),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.BurstSize,
			Period: time.Minute,
		},
	}
}

// Allow consumes one request for key
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (LimitResult, error) {
	res, err := rl.limiter.Allow(ctx, "ratelimit:"+rl.config.Name+":"+key, rl.limit)
	if err != nil {
		return LimitResult{}, err
	}
	return LimitResult{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: max(res.RetryAfter, 0),
	}, nil
}

// Limit returns the configured requests per minute
func (rl *RedisLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

// Stop is a no-op; the Redis client is owned by the caller
func (rl *RedisLimiter) Stop() {}

// RateLimitMiddleware creates a Gin middleware that rate limits requests. When the limiter
// backend fails the request is allowed through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		res, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "rate_limited",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: api_key_id > user_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if apiKeyID := c.GetString(APIKeyIDKey); apiKeyID != "" {
		return "apikey:" + apiKeyID
	}
	if userID := c.GetString(UserIDKey); userID != "" {
		return "user:" + userID
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
