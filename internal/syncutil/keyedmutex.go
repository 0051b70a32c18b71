// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex provides a fixed-size pool of mutexes keyed by string, used
// to serialize per-tenant financial sequences (deactivate-then-insert on
// fulfillment) without unbounded per-key state. Keys that hash to the
// same shard occasionally contend; correctness is unaffected.
type KeyedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	mu := k.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (k *KeyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.shards[h.Sum32()%256]
}
