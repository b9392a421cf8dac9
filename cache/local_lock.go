package cache

import (
	"context"
	"sync"
)

// LocalLocker 进程内按key加锁，未配置Redis时使用
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// WithLock 等待key的锁，ctx取消时放弃等待
func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	lock := l.acquireRef(key)
	defer l.releaseRef(key, lock)

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock.sem }()

	return fn()
}

func (l *LocalLocker) acquireRef(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (l *LocalLocker) releaseRef(key string, lock *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

// Len 返回当前持有或等待中的key数量
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
