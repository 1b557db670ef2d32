package shoal

import (
	"context"
	"errors"
	"fmt"

	"github.com/shoalstore/shoal/chunk"
)

var (
	// ErrNotFound is returned when a chunk is not in a store.
	ErrNotFound = errors.New("chunk not found")

	// ErrChunkMismatch is returned when chunk bytes do not hash to the
	// expected address, whether on a put or on bytes served by a peer.
	ErrChunkMismatch = errors.New("chunk does not match address")
)

type (
	// A ChunkStore holds encrypted chunks keyed by content address. Puts
	// are idempotent and stores are append-only; reclaiming space is a
	// policy decision made elsewhere.
	ChunkStore interface {
		PutChunk(ctx context.Context, c chunk.Chunk) error
		GetChunk(ctx context.Context, addr chunk.Address) (chunk.Chunk, error)
		HasChunk(ctx context.Context, addr chunk.Address) (bool, error)
		Count(ctx context.Context) (uint64, error)
	}

	// A ReconstructionError reports a failed download. Downloads are
	// all-or-nothing, so no partial payload accompanies it.
	ReconstructionError struct {
		Address chunk.Address // chunk that failed, if any
		Err     error
	}
)

// Error implements error.
func (e *ReconstructionError) Error() string {
	if e.Address == (chunk.Address{}) {
		return fmt.Sprintf("failed to reconstruct payload: %v", e.Err)
	}
	return fmt.Sprintf("failed to reconstruct payload: chunk %v: %v", e.Address, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ReconstructionError) Unwrap() error { return e.Err }
