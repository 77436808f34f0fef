package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Manager provides consistent, cheap key-to-bucket assignment. The rate
// limiter uses it to pick a lock shard per key, the analytics tracker to
// assign date buckets to events.
type Manager struct {
	hasherPool sync.Pool
}

func NewManager() *Manager {
	return &Manager{
		// Pool of hash functions to avoid allocation overhead on hot paths.
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// GetShard returns a consistent shard index in [0, numShards) for key.
func (m *Manager) GetShard(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	return int(m.getHash(key) % uint64(numShards))
}

// GetDateBucket returns the UTC date bucket for event partitioning.
func (m *Manager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
