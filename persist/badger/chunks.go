package badger

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/shoalstore/shoal"
	"github.com/shoalstore/shoal/chunk"
)

var _ shoal.ChunkStore = (*Store)(nil)

// PutChunk stores a chunk under its address. Re-putting an address with
// identical bytes is a no-op; bytes that do not hash to the address are
// rejected, as is an address whose stored bytes somehow diverge.
func (s *Store) PutChunk(_ context.Context, c chunk.Chunk) error {
	if chunk.AddressOf(c.Data) != c.Address {
		return fmt.Errorf("chunk %v: %w", c.Address, shoal.ErrChunkMismatch)
	}
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(c.Address[:])
			if err == badger.ErrKeyNotFound {
				return txn.Set(c.Address[:], c.Data)
			} else if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				if !bytes.Equal(val, c.Data) {
					return fmt.Errorf("chunk %v: stored bytes diverge: %w", c.Address, shoal.ErrChunkMismatch)
				}
				return nil
			})
		})
		// racing same-address puts surface as conflicts; puts are
		// idempotent, so retrying converges
		if err == badger.ErrConflict {
			continue
		}
		return err
	}
}

// GetChunk returns the chunk stored at addr.
func (s *Store) GetChunk(_ context.Context, addr chunk.Address) (chunk.Chunk, error) {
	c := chunk.Chunk{Address: addr}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(addr[:])
		if err == badger.ErrKeyNotFound {
			return shoal.ErrNotFound
		} else if err != nil {
			return err
		}
		c.Data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return chunk.Chunk{}, err
	}
	return c, nil
}

// HasChunk returns whether addr is in the store.
func (s *Store) HasChunk(_ context.Context, addr chunk.Address) (ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(addr[:]); err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		ok = true
		return nil
	})
	return
}

// Count returns the number of chunks in the store.
func (s *Store) Count(_ context.Context) (n uint64, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return
}
