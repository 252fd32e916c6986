package cache

import (
	"context"
	"sync"
	"time"
)

// localCache is a mutex-guarded map with a background janitor.
type localCache struct {
	mu     sync.RWMutex
	items  map[string]localItem
	stop   chan struct{}
	closed sync.Once
}

type localItem struct {
	value      interface{}
	expiration time.Time
}

func (it localItem) expired(now time.Time) bool {
	return !it.expiration.IsZero() && now.After(it.expiration)
}

// NewLocalCache creates an in-process cache.
func NewLocalCache(config LocalConfig) Cache {
	lc := &localCache{
		items: make(map[string]localItem),
		stop:  make(chan struct{}),
	}
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go lc.janitor(interval)
	return lc
}

func (lc *localCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-lc.stop:
			return
		case now := <-ticker.C:
			lc.mu.Lock()
			for k, it := range lc.items {
				if it.expired(now) {
					delete(lc.items, k)
				}
			}
			lc.mu.Unlock()
		}
	}
}

func (lc *localCache) Get(ctx context.Context, key string) (interface{}, bool) {
	lc.mu.RLock()
	it, ok := lc.items[key]
	lc.mu.RUnlock()
	if !ok || it.expired(time.Now()) {
		return nil, false
	}
	return it.value, true
}

func (lc *localCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.items[key] = localItem{value: value, expiration: expiry(expiration)}
	return nil
}

func (lc *localCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	now := time.Now()
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if it, ok := lc.items[key]; ok && !it.expired(now) {
		return false, nil
	}
	lc.items[key] = localItem{value: value, expiration: expiry(expiration)}
	return true, nil
}

func (lc *localCache) Delete(ctx context.Context, key string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.items, key)
	return nil
}

func (lc *localCache) Exists(ctx context.Context, key string) bool {
	_, ok := lc.Get(ctx, key)
	return ok
}

func (lc *localCache) Close() error {
	lc.closed.Do(func() { close(lc.stop) })
	return nil
}

func expiry(expiration time.Duration) time.Time {
	if expiration > 0 {
		return time.Now().Add(expiration)
	}
	return time.Time{}
}
