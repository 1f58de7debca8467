package workspace

import (
	"context"
	"hash/fnv"
	"sync"
)

const memoryShards = 16

type memoryShard struct {
	mu    sync.RWMutex
	blobs map[string]string
}

// MemoryBackend keeps workspaces in process memory.
type MemoryBackend struct {
	shards [memoryShards]memoryShard
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{}
	for i := range b.shards {
		b.shards[i].blobs = make(map[string]string)
	}
	return b
}

func (b *MemoryBackend) shard(login string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(login))
	return &b.shards[h.Sum32()%memoryShards]
}

func (b *MemoryBackend) Load(_ context.Context, login string) (string, bool, error) {
	sh := b.shard(login)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	blob, ok := sh.blobs[login]
	return blob, ok, nil
}

func (b *MemoryBackend) Save(_ context.Context, login, blob string) error {
	sh := b.shard(login)
	sh.mu.Lock()
	sh.blobs[login] = blob
	sh.mu.Unlock()
	return nil
}
