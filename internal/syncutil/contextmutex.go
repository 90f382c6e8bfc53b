package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is the context-aware sibling of ShardedMutex. Each
// shard is a channel-based mutex, so a caller waiting on a busy shard can
// abandon the acquisition when its context is cancelled. Settlement paths
// that hold a lock across ledger publishes use this variant.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			ch := make(chan struct{}, 1)
			ch <- struct{}{} // starts unlocked
			m.shards[i] = ch
		}
	})
}

// LockContext acquires the mutex for key, or gives up when ctx is done.
// On success the returned unlock function must be called exactly once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[shardFor(key)]

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
