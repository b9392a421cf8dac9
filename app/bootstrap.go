package app

import (
	"context"
	"errors"
	"time"

	"polls-backend/cache"
	"polls-backend/config"
	"polls-backend/database"
	"polls-backend/handlers"
	"polls-backend/logging"
	"polls-backend/metrics"
	"polls-backend/migrations"
	"polls-backend/repository"
	"polls-backend/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// lockExpiry bounds how long a crashed instance can hold a poll lock.
const lockExpiry = 8 * time.Second

// components holds everything a command may need. Redis may be nil.
type components struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	redis   *redis.Client
	metrics *metrics.Metrics
	service *service.PollServiceImpl
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// build opens the database (running migrations) and Redis, and assembles
// the poll service on top of them.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	db, err := database.Open(ctx, cfg.Database, logger, database.LogLevelFor(cfg.Environment))
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(db, logger); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	redisClient, err := cache.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		// Redis 不可用时退回到进程内实现
		logger.Warn("redis unavailable, continuing without it", zap.Error(err))
		redisClient = nil
	}

	c := &components{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		redis:   redisClient,
		metrics: metrics.New(),
	}

	var store repository.PollStore = repository.NewGormPollRepository(db)
	opts := []service.Option{
		service.WithLogger(logger.Named("service")),
		service.WithMetrics(c.metrics),
	}
	if redisClient != nil {
		store = repository.NewCachedPollRepository(store, cache.NewPollCache(redisClient, cfg.Redis.CacheTTL), logger.Named("cache"))
		opts = append(opts,
			service.WithLocker(cache.NewRedisLocker(redisClient, lockExpiry, logger.Named("lock"))),
			service.WithVoterFilter(cache.NewVoterFilter(redisClient)),
		)
	}
	c.service = service.NewPollService(store, opts...)

	return c, nil
}

// limiter returns the request limiter for the configuration, or nil when
// rate limiting is disabled.
func (c *components) limiter() handlers.Limiter {
	if !c.cfg.RateLimit.Enabled {
		return nil
	}
	if c.redis != nil {
		return cache.NewTokenBucketLimiter(c.redis, "api", c.cfg.RateLimit.RPS, c.cfg.RateLimit.Burst)
	}
	return handlers.NewClientRateLimiter(c.cfg.RateLimit.RPS, c.cfg.RateLimit.Burst)
}

func (c *components) redisPinger() handlers.Pinger {
	if c.redis == nil {
		return nil
	}
	return c.redis
}

func (c *components) Close() error {
	return errors.Join(cache.Close(c.redis), database.Close(c.db))
}
