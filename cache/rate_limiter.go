package cache

import (
	"context"
	"fmt"
	"math"
	"time"
)

// tokenBucketScript 令牌桶算法，时间单位为毫秒
const tokenBucketScript = `
local tokens_key = KEYS[1] .. ":tokens"
local timestamp_key = KEYS[1] .. ":ts"
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call("get", tokens_key) or burst)
local last_update = tonumber(redis.call("get", timestamp_key) or now)

local elapsed = math.max(0, now - last_update)
local new_tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	allowed = 1
end

redis.call("setex", tokens_key, ttl, tostring(new_tokens))
redis.call("setex", timestamp_key, ttl, tostring(now))

return allowed
`

// TokenBucketLimiter 基于Redis的令牌桶限流器，多实例共享同一个桶
type TokenBucketLimiter struct {
	redisClient RedisClient
	prefix      string
	rate        float64 // 每秒生成的令牌数量
	burst       int     // 令牌桶最大容量
	now         func() time.Time
}

// NewTokenBucketLimiter 创建新的令牌桶限流器
func NewTokenBucketLimiter(client RedisClient, prefix string, rate float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		redisClient: client,
		prefix:      fmt.Sprintf("rate_limit:%s", prefix),
		rate:        rate,
		burst:       burst,
		now:         time.Now,
	}
}

// Allow 判断key对应的请求是否允许通过
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	// 桶从空到满所需时间的两倍，之后key自然过期
	ttl := int64(math.Ceil(float64(l.burst)/l.rate))*2 + 1
	args := []interface{}{l.now().UnixMilli(), l.rate, l.burst, ttl}

	result, err := l.redisClient.Eval(ctx, tokenBucketScript, []string{l.prefix + ":" + key}, args...).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
