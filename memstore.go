package shoal

import (
	"context"
	"fmt"
	"sync"

	"github.com/shoalstore/shoal/chunk"
)

// A MemoryChunkStore is an in-memory ChunkStore. Tests use it in place of
// the durable store.
type MemoryChunkStore struct {
	mu     sync.Mutex
	chunks map[chunk.Address][]byte
}

var _ ChunkStore = (*MemoryChunkStore)(nil)

// NewMemoryChunkStore creates an empty in-memory chunk store.
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{chunks: make(map[chunk.Address][]byte)}
}

// PutChunk implements ChunkStore. Re-putting an address is a no-op; bytes
// that do not hash to the address are rejected.
func (ms *MemoryChunkStore) PutChunk(_ context.Context, c chunk.Chunk) error {
	if chunk.AddressOf(c.Data) != c.Address {
		return fmt.Errorf("chunk %v: %w", c.Address, ErrChunkMismatch)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.chunks[c.Address]; !ok {
		ms.chunks[c.Address] = append([]byte(nil), c.Data...)
	}
	return nil
}

// GetChunk implements ChunkStore.
func (ms *MemoryChunkStore) GetChunk(_ context.Context, addr chunk.Address) (chunk.Chunk, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	data, ok := ms.chunks[addr]
	if !ok {
		return chunk.Chunk{}, ErrNotFound
	}
	return chunk.Chunk{Address: addr, Data: append([]byte(nil), data...)}, nil
}

// HasChunk implements ChunkStore.
func (ms *MemoryChunkStore) HasChunk(_ context.Context, addr chunk.Address) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.chunks[addr]
	return ok, nil
}

// Count implements ChunkStore.
func (ms *MemoryChunkStore) Count(context.Context) (uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return uint64(len(ms.chunks)), nil
}
