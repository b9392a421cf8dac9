package cache

import (
	"context"
	"fmt"
	"time"

	"polls-backend/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient 根据配置创建Redis客户端并检测连通性。未配置地址时返回 (nil, nil)，
// 调用方据此关闭所有依赖Redis的功能。
func NewClient(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("初始化Redis连接", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	log.Info("Redis连接初始化成功")
	return client, nil
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
