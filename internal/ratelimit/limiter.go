package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Shpigford/dutch-auction/internal/bucketing"
)

// Limiter throttles requests per key over a trailing interval. Allowed is
// false once the post-increment count for a key exceeds limit. Rate limiting
// is advisory abuse mitigation, not a security boundary: implementations may
// lose counters on restart.
type Limiter interface {
	Check(ctx context.Context, key string, limit int) (allowed bool, err error)
}

const defaultShards = 16

type entry struct {
	key       string
	count     int
	expiresAt time.Time
	elem      *list.Element
}

type shard struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry
	lru      *list.List // front = most recently used
}

// MemoryLimiter keeps one fixed-window counter bucket per key, bounded to a
// maximum number of distinct keys with least-recently-used eviction. Keys are
// spread over lock shards so unrelated requests never contend on one mutex.
type MemoryLimiter struct {
	interval time.Duration
	shards   []*shard
	buckets  *bucketing.Manager
	now      func() time.Time
}

// NewMemoryLimiter builds a limiter tracking at most uniqueTokenPerInterval
// distinct keys, each bucket expiring interval after its first hit.
func NewMemoryLimiter(interval time.Duration, uniqueTokenPerInterval int, buckets *bucketing.Manager) *MemoryLimiter {
	perShard := uniqueTokenPerInterval / defaultShards
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]*shard, defaultShards)
	for i := range shards {
		shards[i] = &shard{
			capacity: perShard,
			entries:  make(map[string]*entry),
			lru:      list.New(),
		}
	}

	return &MemoryLimiter{
		interval: interval,
		shards:   shards,
		buckets:  buckets,
		now:      time.Now,
	}
}

// Check increments the counter bucket for key and reports whether the hit is
// within limit. A bucket expires a fixed interval after its first hit; the
// next hit after expiry starts a fresh window.
func (l *MemoryLimiter) Check(_ context.Context, key string, limit int) (bool, error) {
	s := l.shards[l.buckets.GetShard(key, len(l.shards))]
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && now.Before(e.expiresAt) {
		e.count++
		s.lru.MoveToFront(e.elem)
		return e.count <= limit, nil
	}

	if ok {
		// Window elapsed: reuse the slot with a fresh window.
		e.count = 1
		e.expiresAt = now.Add(l.interval)
		s.lru.MoveToFront(e.elem)
		return 1 <= limit, nil
	}

	if len(s.entries) >= s.capacity {
		s.evictOldest()
	}

	e = &entry{key: key, count: 1, expiresAt: now.Add(l.interval)}
	e.elem = s.lru.PushFront(e)
	s.entries[key] = e
	return 1 <= limit, nil
}

// evictOldest drops the least-recently-used bucket. Capacity pressure only
// ever reclaims idle keys; a key being actively counted sits at the front.
func (s *shard) evictOldest() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	victim := back.Value.(*entry)
	s.lru.Remove(back)
	delete(s.entries, victim.key)
}
