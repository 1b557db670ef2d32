// Package shoal distributes self-encrypted, content-addressed chunks
// across peers chosen by XOR distance. A Node owns a local chunk store, a
// routing table view of its peers, and the upload and download paths
// between the two.
package shoal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shoalstore/shoal/chunk"
	"github.com/shoalstore/shoal/kad"
	"go.uber.org/zap"
)

const (
	defaultMaxInflight  = 16
	defaultCacheSize    = 256
	defaultFetchTimeout = time.Minute
)

type (
	// Options configure a Node. The zero value applies defaults.
	Options struct {
		// Chunk bounds the piece sizes of the codec.
		Chunk chunk.Options
		// MaxInflight caps concurrent peer requests.
		MaxInflight int
		// CacheSize is the number of fetched chunks kept in memory.
		CacheSize int
		// FetchTimeout bounds a single peer request.
		FetchTimeout time.Duration
	}

	// A Node is one participant in the chunk network.
	Node struct {
		store     ChunkStore
		table     *kad.Table
		selector  *kad.Selector
		transport Transport
		payer     Payer
		fetcher   *chunkFetcher
		opts      Options
		log       *zap.Logger
	}
)

// NewNode creates a node. transport and payer may be nil: without a
// transport the node keeps chunks locally, and without a payer uploads
// skip the payment gate.
func NewNode(store ChunkStore, table *kad.Table, selector *kad.Selector, transport Transport, payer Payer, opts Options, log *zap.Logger) (*Node, error) {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = defaultMaxInflight
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}

	fetcher, err := newChunkFetcher(store, selector, transport, opts.MaxInflight, opts.CacheSize, opts.FetchTimeout, log.Named("fetch"))
	if err != nil {
		return nil, err
	}
	return &Node{
		store:     store,
		table:     table,
		selector:  selector,
		transport: transport,
		payer:     payer,
		fetcher:   fetcher,
		opts:      opts,
		log:       log,
	}, nil
}

// Self returns the local node id.
func (n *Node) Self() chunk.Address { return n.table.Self() }

// Store returns the node's local chunk store.
func (n *Node) Store() ChunkStore { return n.store }

// PeerCount returns the number of known peers.
func (n *Node) PeerCount() int { return n.table.Len() }

// Observe records contact with a peer in the routing table.
func (n *Node) Observe(ctx context.Context, p kad.Peer) error {
	return n.table.Observe(ctx, p)
}

// RoutingSnapshot reports the routing table for diagnostics.
func (n *Node) RoutingSnapshot() []kad.BucketSnapshot {
	return n.table.Snapshot()
}

// Upload encrypts data and places its chunks, and the chunks of its
// packed map, on the close group of each chunk address. The returned
// DataMap is the only capability for the payload; the caller must keep
// it. Identical payloads produce identical maps.
func (n *Node) Upload(ctx context.Context, data []byte) (chunk.DataMap, error) {
	log := n.log.Named("upload")

	m, chunks, err := chunk.Encrypt(data, n.opts.Chunk)
	if err != nil {
		return chunk.DataMap{}, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	packed, extra, err := chunk.PackMap(m, n.opts.Chunk)
	if err != nil {
		return chunk.DataMap{}, fmt.Errorf("failed to pack data map: %w", err)
	}
	chunks = append(chunks, extra...)

	addrs := make([]chunk.Address, 0, len(chunks))
	for _, c := range chunks {
		if err := n.store.PutChunk(ctx, c); err != nil {
			return chunk.DataMap{}, fmt.Errorf("failed to store chunk %v: %w", c.Address, err)
		}
		addrs = append(addrs, c.Address)
	}

	if n.transport == nil {
		log.Debug("no transport, chunks held locally", zap.Int("chunks", len(chunks)))
		return packed, nil
	}

	var proof PaymentProof
	if n.payer != nil {
		proof, err = n.payer.PayForStorage(ctx, addrs)
		if err != nil {
			return chunk.DataMap{}, fmt.Errorf("failed to pay for storage: %w", err)
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, n.opts.MaxInflight)
	errs := make([]error, len(chunks))
	for i := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = n.storeChunk(ctx, chunks[i], proof)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return chunk.DataMap{}, err
		}
	}

	log.Debug("uploaded payload",
		zap.Uint64("size", uint64(len(data))),
		zap.Int("chunks", len(chunks)),
		zap.Int("level", packed.Level))
	return packed, nil
}

// storeChunk pushes one chunk to its close group. Fewer available or
// accepting peers than the replication factor degrades the upload rather
// than failing it.
func (n *Node) storeChunk(ctx context.Context, c chunk.Chunk, proof PaymentProof) error {
	log := n.log.Named("store").With(zap.Stringer("address", c.Address))

	peers, err := n.selector.ForStore(c.Address)
	if errors.Is(err, kad.ErrDegradedReplication) {
		log.Warn("replicating below target", zap.Int("peers", len(peers)), zap.Error(err))
	} else if err != nil {
		return fmt.Errorf("failed to select peers for %v: %w", c.Address, err)
	}

	var stored int
	for _, p := range peers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		storeCtx, cancel := context.WithTimeout(ctx, n.opts.FetchTimeout)
		err := n.transport.StoreChunk(storeCtx, p, c, proof)
		cancel()
		if err != nil {
			n.selector.MarkFailed(p.ID)
			log.Warn("peer rejected chunk", zap.Stringer("peer", p.ID), zap.Error(err))
			continue
		}
		n.selector.MarkAlive(p.ID)
		stored++
	}
	if stored < len(peers) {
		log.Warn("stored below target", zap.Int("stored", stored), zap.Int("selected", len(peers)))
	}
	return nil
}

// Download fetches and decrypts the payload described by m. It returns
// either the complete payload or a *ReconstructionError, never partial
// bytes.
func (n *Node) Download(ctx context.Context, m chunk.DataMap) ([]byte, error) {
	resolved, err := chunk.UnpackMap(ctx, m, n.fetcher.fetch)
	if err != nil {
		return nil, &ReconstructionError{Err: err}
	}

	chunks := make([]chunk.Chunk, len(resolved.Refs))
	errs := make([]error, len(resolved.Refs))
	var wg sync.WaitGroup
	for i, ref := range resolved.Refs {
		wg.Add(1)
		go func(i int, ref chunk.Ref) {
			defer wg.Done()
			data, err := n.fetcher.fetch(ctx, ref.Address)
			if err != nil {
				errs[i] = err
				return
			}
			chunks[i] = chunk.Chunk{Address: ref.Address, Data: data}
		}(i, ref)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return nil, &ReconstructionError{Address: resolved.Refs[i].Address, Err: err}
		}
	}

	data, err := chunk.Decrypt(resolved, chunks)
	if err != nil {
		return nil, &ReconstructionError{Err: err}
	}
	return data, nil
}
