package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient 定义缓存层用到的Redis命令，*redis.Client 满足该接口
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd

	// 管道操作
	Pipeline() redis.Pipeliner

	// Lua脚本
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

var _ RedisClient = (*redis.Client)(nil)
