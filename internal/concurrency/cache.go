package concurrency

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a TTL+LRU string->[]byte cache serialized by a single mutex, with
// hit/miss/eviction counters. A nil *Cache is safe to use as an always-miss
// cache.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List

	Hits      int64
	Misses    int64
	Evictions int64
}

type entry struct {
	key    string
	value  []byte
	expiry time.Time
}

// NewCache builds an in-process cache with the given capacity and TTL.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key, or (nil, false) on miss or expiry.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.Misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiry.IsZero() && time.Now().After(e.expiry) {
		c.order.Remove(el)
		delete(c.items, key)
		c.Misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.Hits++
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Set stores value under key, evicting the least-recently-used entry if the
// cache is at capacity.
func (c *Cache) Set(key string, value []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiry time.Time
	if c.ttl > 0 {
		expiry = time.Now().Add(c.ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = cp
		el.Value.(*entry).expiry = expiry
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{key: key, value: cp, expiry: expiry})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
			c.Evictions++
		}
	}
}

// RedisCache is the optional distributed TTL tier used when a Redis DSN is
// configured. Unlike Cache, its Get and Set take a context.Context, since
// each call is a network round trip.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a distributed cache backed by go-redis.
func NewRedisCache(dsn string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opt), ttl: ttl}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if r == nil {
		return
	}
	r.client.Set(ctx, key, value, r.ttl)
}

func (r *RedisCache) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
