package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"polls-backend/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	nullValue    = "NULL"
	jitterFactor = 0.2

	// 代际key至少保留这么久，覆盖一次读库到回填之间的窗口
	minGenerationTTL = time.Hour
)

// setIfGenerationScript 仅当代际未变化时回填缓存。
// KEYS[1] 代际key，KEYS[2] 数据key；ARGV: 读库前取得的代际, 值, 过期毫秒
const setIfGenerationScript = `
local current = redis.call('GET', KEYS[1])
if not current then
    current = ''
end
if current ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`

// PollCache 以JSON缓存投票详情。空值缓存较短时间，防止缓存穿透；
// 过期时间带随机抖动，避免缓存雪崩。
//
// 每个投票有一个代际key，失效时写入新值。读者在读库前取得代际，
// 回填时代际已变说明期间发生过写入或删除，回填被丢弃。
type PollCache struct {
	client RedisClient
	ttl    time.Duration
}

// NewPollCache 创建投票缓存
func NewPollCache(client RedisClient, ttl time.Duration) *PollCache {
	return &PollCache{client: client, ttl: ttl}
}

func pollKey(id uint) string {
	return fmt.Sprintf("poll:%d", id)
}

func generationKey(id uint) string {
	return fmt.Sprintf("pollgen:%d", id)
}

func (c *PollCache) expiration(base time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(float64(base)*jitterFactor) + 1))
	return base + jitter
}

// GetPoll 读取缓存。未命中返回 ErrKeyNotFound，缓存的空值返回 ErrCachedMiss。
func (c *PollCache) GetPoll(ctx context.Context, id uint) (*models.Poll, error) {
	if c.client == nil {
		return nil, ErrRedisNotAvailable
	}

	raw, err := c.client.Get(ctx, pollKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	if raw == nullValue {
		return nil, ErrCachedMiss
	}

	var poll models.Poll
	if err := json.Unmarshal([]byte(raw), &poll); err != nil {
		return nil, fmt.Errorf("failed to decode cached poll %d: %w", id, err)
	}
	return &poll, nil
}

// Generation 返回投票当前的缓存代际，不存在时为空串
func (c *PollCache) Generation(ctx context.Context, id uint) (string, error) {
	if c.client == nil {
		return "", ErrRedisNotAvailable
	}

	gen, err := c.client.Get(ctx, generationKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// SetPoll 写入投票快照。gen 为读库前 Generation 的返回值，
// 代际已变化时返回 ErrStaleGeneration。
func (c *PollCache) SetPoll(ctx context.Context, poll *models.Poll, gen string) error {
	if c.client == nil {
		return ErrRedisNotAvailable
	}

	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}
	return c.setIfGeneration(ctx, poll.ID, gen, string(data), c.expiration(c.ttl))
}

// SetMissing 记录投票不存在
func (c *PollCache) SetMissing(ctx context.Context, id uint, gen string) error {
	if c.client == nil {
		return ErrRedisNotAvailable
	}
	return c.setIfGeneration(ctx, id, gen, nullValue, c.expiration(c.ttl/4))
}

func (c *PollCache) setIfGeneration(ctx context.Context, id uint, gen, value string, ttl time.Duration) error {
	keys := []string{generationKey(id), pollKey(id)}
	ok, err := c.client.Eval(ctx, setIfGenerationScript, keys, gen, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrStaleGeneration
	}
	return nil
}

// DeletePolls 删除缓存并推进代际，进行中的回填随之失效
func (c *PollCache) DeletePolls(ctx context.Context, ids ...uint) error {
	if c.client == nil {
		return ErrRedisNotAvailable
	}
	if len(ids) == 0 {
		return nil
	}

	genTTL := 2 * c.ttl
	if genTTL < minGenerationTTL {
		genTTL = minGenerationTTL
	}

	pipe := c.client.Pipeline()
	keys := make([]string, len(ids))
	for i, id := range ids {
		pipe.Set(ctx, generationKey(id), uuid.NewString(), genTTL)
		keys[i] = pollKey(id)
	}
	pipe.Del(ctx, keys...)
	_, err := pipe.Exec(ctx)
	return err
}
