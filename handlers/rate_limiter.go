package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter 按key限流。cache.TokenBucketLimiter 和 ClientRateLimiter 都实现了该接口。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter 进程内按客户端限流，未配置Redis时使用
type ClientRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

var _ Limiter = (*ClientRateLimiter)(nil)

// NewClientRateLimiter 创建限流器，每个客户端每秒rps个请求，突发burst个
func NewClientRateLimiter(rps float64, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		clients: make(map[string]*clientEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow 检查key是否还有令牌
func (l *ClientRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.clients[key]
	if !ok {
		l.evictIdle(now)
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

// evictIdle 清理长时间没有请求的客户端，调用方持有锁
func (l *ClientRateLimiter) evictIdle(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.clients, key)
		}
	}
}

// Len 返回当前跟踪的客户端数
func (l *ClientRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RateLimitMiddleware 按客户端IP限流。限流器出错时放行请求。
func RateLimitMiddleware(limiter Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", "1")
			abortWithError(c, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}
