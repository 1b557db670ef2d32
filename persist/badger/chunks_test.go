package badger_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shoalstore/shoal"
	"github.com/shoalstore/shoal/chunk"
	"github.com/shoalstore/shoal/persist/badger"
	"go.uber.org/zap/zaptest"
	"lukechampine.com/frand"
)

func TestChunkStore(t *testing.T) {
	log := zaptest.NewLogger(t)
	store, err := badger.OpenDatabase(filepath.Join(t.TempDir(), "shoald.badgerdb"), log.Named("badger"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	c := chunk.NewChunk(frand.Bytes(1024))

	if ok, err := store.HasChunk(ctx, c.Address); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatal("expected an empty store")
	}
	if _, err := store.GetChunk(ctx, c.Address); !errors.Is(err, shoal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.PutChunk(ctx, c); err != nil {
		t.Fatal(err)
	}
	// re-putting the same chunk is a no-op
	if err := store.PutChunk(ctx, c); err != nil {
		t.Fatal(err)
	}
	// bytes that do not hash to the address are rejected
	bad := chunk.Chunk{Address: c.Address, Data: frand.Bytes(64)}
	if err := store.PutChunk(ctx, bad); !errors.Is(err, shoal.ErrChunkMismatch) {
		t.Fatalf("expected ErrChunkMismatch, got %v", err)
	}

	if got, err := store.GetChunk(ctx, c.Address); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(got.Data, c.Data) {
		t.Fatal("stored bytes changed")
	}
	if ok, err := store.HasChunk(ctx, c.Address); err != nil {
		t.Fatal(err)
	} else if !ok {
		t.Fatal("expected the chunk to exist")
	}
	if n, err := store.Count(ctx); err != nil {
		t.Fatal(err)
	} else if n != 1 {
		t.Fatalf("expected 1 chunk, got %d", n)
	}
}

func TestChunkStoreReopen(t *testing.T) {
	log := zaptest.NewLogger(t)
	path := filepath.Join(t.TempDir(), "shoald.badgerdb")

	store, err := badger.OpenDatabase(path, log.Named("badger"))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	chunks := make([]chunk.Chunk, 10)
	for i := range chunks {
		chunks[i] = chunk.NewChunk(frand.Bytes(512))
		if err := store.PutChunk(ctx, chunks[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = badger.OpenDatabase(path, log.Named("badger"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if n, err := store.Count(ctx); err != nil {
		t.Fatal(err)
	} else if n != uint64(len(chunks)) {
		t.Fatalf("expected %d chunks after reopen, got %d", len(chunks), n)
	}
	for _, c := range chunks {
		got, err := store.GetChunk(ctx, c.Address)
		if err != nil {
			t.Fatal(err)
		} else if !bytes.Equal(got.Data, c.Data) {
			t.Fatal("stored bytes changed across reopen")
		}
	}
}

func TestGC(t *testing.T) {
	log := zaptest.NewLogger(t)
	store, err := badger.OpenDatabase(filepath.Join(t.TempDir(), "shoald.badgerdb"), log.Named("badger"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 64; i++ {
		if err := store.PutChunk(ctx, chunk.NewChunk(frand.Bytes(4096))); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.GC(); err != nil {
		t.Fatal(err)
	}
}

func TestFreeSpace(t *testing.T) {
	free, err := badger.FreeSpace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	} else if free == 0 {
		t.Fatal("expected free space on the test volume")
	}
}
