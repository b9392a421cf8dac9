package cache

import "errors"

var (
	// ErrRedisNotAvailable Redis不可用错误
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired 获取锁失败错误
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrKeyNotFound 缓存未命中
	ErrKeyNotFound = errors.New("key not found in cache")

	// ErrCachedMiss 缓存中记录了"不存在"
	ErrCachedMiss = errors.New("cached as missing")

	// ErrStaleGeneration 回填期间缓存已失效，本次回填被丢弃
	ErrStaleGeneration = errors.New("cache generation changed")
)
