package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker 在持有key对应的锁期间执行fn
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

const (
	defaultLockExpiry = 5 * time.Second
	lockTries         = 40
	lockRetryDelay    = 50 * time.Millisecond
)

// RedisLocker 基于redsync的分布式锁，多实例部署时串行化同一投票的写操作
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	log    *zap.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker 创建分布式锁服务
func NewRedisLocker(client redis.UniversalClient, expiry time.Duration, log *zap.Logger) *RedisLocker {
	if expiry <= 0 {
		expiry = defaultLockExpiry
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		log:    log,
	}
}

// WithLock 获取锁后执行fn，结束后释放锁。fn执行期间每隔半个过期时间续期一次，
// 慢事务不会让锁提前过期。
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	mutex := l.rs.NewMutex("lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(lockTries),
		redsync.WithRetryDelay(lockRetryDelay),
		redsync.WithDriftFactor(0.01), // 时钟漂移因子
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
	}

	// 确保解锁；使用独立的上下文，请求取消时也能释放
	defer func() {
		if ok, err := mutex.UnlockContext(context.Background()); err != nil || !ok {
			l.log.Warn("释放分布式锁失败", zap.String("key", key), zap.Error(err))
		}
	}()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(mutex, key, stop)
	}()
	defer func() {
		close(stop)
		<-done
	}()

	return fn()
}

// keepAlive 续期直到stop关闭；续期失败只记录日志
func (l *RedisLocker) keepAlive(mutex *redsync.Mutex, key string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.expiry / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if ok, err := mutex.ExtendContext(context.Background()); err != nil || !ok {
				l.log.Warn("分布式锁续期失败", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
