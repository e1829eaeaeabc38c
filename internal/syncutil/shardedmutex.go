// Package syncutil provides small concurrency helpers shared by the
// stores that serialize per-key work.
package syncutil

import "sync"

const shardCount = 128

// ShardedMutex serializes work per string key using a fixed pool of
// mutexes. Memory stays bounded no matter how many keys show up, at the
// cost of occasional false sharing between keys on the same shard.
//
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
//
//	unlock := locks.Lock(key)
//	defer unlock()
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

// shardIndex is FNV-1a inlined to avoid allocating a hasher per lock.
func shardIndex(key string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= prime32
	}
	return h % shardCount
}
