package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time // zero means no expiry
	access   time.Time
}

// MemoryCache implements Service in process with LRU eviction. It backs
// single-instance deployments and tests.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	maxSize int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 10000, CleanupInterval: time.Minute, Now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	mc := &MemoryCache{
		items:   make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		stop:    make(chan struct{}),
	}
	go mc.cleanup(cfg.CleanupInterval)
	return mc
}

func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) live(key string, now time.Time) (*memoryItem, bool) {
	it, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	if !it.expireAt.IsZero() && !now.Before(it.expireAt) {
		delete(mc.items, key)
		return nil, false
	}
	return it, true
}

func (mc *MemoryCache) put(key string, data []byte, ttl time.Duration, now time.Time) {
	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evictLRU()
	}
	it := &memoryItem{data: data, access: now}
	if ttl > 0 {
		it.expireAt = now.Add(ttl)
	}
	mc.items[key] = it
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, data, expiration, mc.now())
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	now := mc.now()
	it, ok := mc.live(key, now)
	if ok {
		it.access = now
	}
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(it.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		delete(mc.items, k)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	for _, k := range keys {
		if _, ok := mc.live(k, now); ok {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) Keys(_ context.Context, prefix string) ([]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	var out []string
	for k := range mc.items {
		if strings.HasPrefix(k, prefix) {
			if _, ok := mc.live(k, now); ok {
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if it, ok := mc.live(k, now); ok {
			out[k] = string(it.data)
		}
	}
	return out, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	if it, ok := mc.live(key, now); ok && string(it.data) != owner {
		return false, nil
	}
	mc.put(key, []byte(owner), ttl, now)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, owner string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	it, ok := mc.live(key, mc.now())
	if !ok {
		return nil
	}
	if string(it.data) != owner {
		return ErrNotOwner
	}
	delete(mc.items, key)
	return nil
}

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for k, it := range mc.items {
		if oldestKey == "" || it.access.Before(oldest) {
			oldestKey, oldest = k, it.access
		}
	}
	if oldestKey != "" {
		delete(mc.items, oldestKey)
	}
}

func (mc *MemoryCache) cleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.mu.Lock()
			now := mc.now()
			for k := range mc.items {
				mc.live(k, now)
			}
			mc.mu.Unlock()
		}
	}
}
