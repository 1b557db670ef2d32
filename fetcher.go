package shoal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shoalstore/shoal/chunk"
	"github.com/shoalstore/shoal/kad"
	"go.uber.org/zap"
)

type (
	chunkResponse struct {
		ch   chan struct{}
		data []byte
		err  error
	}

	// A chunkFetcher retrieves chunk ciphertext, trying the local store,
	// then a cache of recent fetches, then candidate peers in
	// closest-first order. Concurrent requests for the same address
	// coalesce into one peer round trip, and total peer traffic is
	// bounded.
	chunkFetcher struct {
		store     ChunkStore
		selector  *kad.Selector
		transport Transport
		timeout   time.Duration
		log       *zap.Logger

		sem chan struct{}

		mu       sync.Mutex // protects the fields below
		cache    *lru.TwoQueueCache[chunk.Address, []byte]
		inflight map[chunk.Address]*chunkResponse
	}
)

func newChunkFetcher(store ChunkStore, selector *kad.Selector, transport Transport, maxInflight, cacheSize int, timeout time.Duration, log *zap.Logger) (*chunkFetcher, error) {
	cache, err := lru.New2Q[chunk.Address, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}
	return &chunkFetcher{
		store:     store,
		selector:  selector,
		transport: transport,
		timeout:   timeout,
		log:       log,
		sem:       make(chan struct{}, maxInflight),
		cache:     cache,
		inflight:  make(map[chunk.Address]*chunkResponse),
	}, nil
}

func (r *chunkResponse) wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.ch:
	}
	return r.data, r.err
}

// fetch returns the ciphertext stored at addr.
func (f *chunkFetcher) fetch(ctx context.Context, addr chunk.Address) ([]byte, error) {
	if c, err := f.store.GetChunk(ctx, addr); err == nil {
		return c.Data, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to read local store: %w", err)
	}

	f.mu.Lock()
	if data, ok := f.cache.Get(addr); ok {
		f.mu.Unlock()
		return data, nil
	}
	if resp, ok := f.inflight[addr]; ok {
		f.mu.Unlock()
		return resp.wait(ctx)
	}
	resp := &chunkResponse{ch: make(chan struct{})}
	f.inflight[addr] = resp
	f.mu.Unlock()

	go f.doFetch(addr, resp)
	return resp.wait(ctx)
}

// doFetch completes one coalesced fetch. It deliberately outlives the
// caller's context: other callers may be waiting on the same response.
func (f *chunkFetcher) doFetch(addr chunk.Address, resp *chunkResponse) {
	f.sem <- struct{}{}
	defer func() { <-f.sem }()

	data, err := f.fetchFromPeers(addr)

	f.mu.Lock()
	if err == nil {
		f.cache.Add(addr, data)
	}
	delete(f.inflight, addr)
	f.mu.Unlock()

	resp.data, resp.err = data, err
	close(resp.ch)
}

// fetchFromPeers fails over across candidate holders one at a time. A
// peer returning bytes that do not hash to addr is marked failed and
// never retried for this chunk; a peer that simply does not have the
// chunk is not penalized.
func (f *chunkFetcher) fetchFromPeers(addr chunk.Address) ([]byte, error) {
	if f.transport == nil {
		return nil, fmt.Errorf("no transport: %w", ErrNotFound)
	}
	log := f.log.With(zap.Stringer("address", addr))
	peers := f.selector.ForFetch(addr)
	if len(peers) == 0 {
		return nil, fmt.Errorf("no candidate peers: %w", ErrNotFound)
	}

	start := time.Now()
	var lastErr, mismatchErr error
	for _, p := range peers {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		data, err := f.transport.FetchChunk(ctx, p, addr)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				f.selector.MarkFailed(p.ID)
			}
			lastErr = fmt.Errorf("peer %v: %w", p.ID, err)
			log.Debug("fetch attempt failed", zap.Stringer("peer", p.ID), zap.Error(err))
			continue
		}
		if chunk.AddressOf(data) != addr {
			f.selector.MarkFailed(p.ID)
			mismatchErr = fmt.Errorf("peer %v: %w", p.ID, ErrChunkMismatch)
			log.Warn("peer served mismatched chunk", zap.Stringer("peer", p.ID))
			continue
		}
		f.selector.MarkAlive(p.ID)
		log.Debug("fetched chunk", zap.Stringer("peer", p.ID), zap.Duration("elapsed", time.Since(start)))
		return data, nil
	}
	// a mismatch outranks a miss in the report
	if mismatchErr != nil {
		lastErr = mismatchErr
	}
	return nil, fmt.Errorf("exhausted %d peers: %w", len(peers), lastErr)
}
