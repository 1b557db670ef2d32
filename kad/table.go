// Package kad implements Kademlia-style peer routing over the chunk
// address space: a table of XOR-distance buckets plus the peer selection
// used for chunk placement and retrieval.
package kad

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/shoalstore/shoal/chunk"
	"go.uber.org/zap"
)

// A NodeID identifies a peer. Node ids share the chunk address keyspace,
// so peer distance and content distance are directly comparable.
type NodeID = chunk.Address

const (
	// BucketCount is the number of distance buckets, one per bit of an id.
	BucketCount = chunk.AddressSize * 8

	// DefaultBucketSize is the maximum number of peers a bucket retains.
	DefaultBucketSize = 20

	defaultProbeTimeout = 5 * time.Second
)

type (
	// A Peer is a routing table entry.
	Peer struct {
		ID        NodeID              `json:"id"`
		Addr      multiaddr.Multiaddr `json:"address"`
		FirstSeen time.Time           `json:"firstSeen"`
		LastSeen  time.Time           `json:"lastSeen"`
	}

	// A Pinger probes a peer for liveness before the table evicts it. A
	// nil Pinger makes full buckets always keep their residents.
	Pinger interface {
		Ping(ctx context.Context, p Peer) error
	}

	// TableOptions configure a Table. The zero value applies defaults.
	TableOptions struct {
		BucketSize   int
		ProbeTimeout time.Duration
	}

	entry struct {
		peer    Peer
		probing bool
	}

	bucket struct {
		mu      sync.Mutex
		entries []*entry // least-recently-seen first
	}

	// A Table tracks known peers in buckets keyed by XOR distance from
	// the local node. Buckets mutate independently, and no bucket lock is
	// held across a liveness probe.
	Table struct {
		self         NodeID
		bucketSize   int
		probeTimeout time.Duration
		pinger       Pinger
		log          *zap.Logger

		buckets [BucketCount]bucket
	}

	// A BucketSnapshot reports one bucket's contents for diagnostics.
	BucketSnapshot struct {
		Index int    `json:"index"`
		Peers []Peer `json:"peers"`
	}
)

// NewTable creates a routing table centered on self.
func NewTable(self NodeID, pinger Pinger, opts TableOptions, log *zap.Logger) *Table {
	if opts.BucketSize <= 0 {
		opts.BucketSize = DefaultBucketSize
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	return &Table{
		self:         self,
		bucketSize:   opts.BucketSize,
		probeTimeout: opts.ProbeTimeout,
		pinger:       pinger,
		log:          log,
	}
}

// Self returns the local node id.
func (t *Table) Self() NodeID { return t.self }

func (b *bucket) find(id NodeID) int {
	for i, e := range b.entries {
		if e.peer.ID == id {
			return i
		}
	}
	return -1
}

// moveToBack marks entry i most recently seen.
func (b *bucket) moveToBack(i int) {
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.entries = append(b.entries, e)
}

func (b *bucket) remove(i int) {
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
}

// Observe inserts or refreshes p. Observations of the local node are
// ignored. Refreshing preserves the entry's first-seen time. When the
// bucket is full, the least-recently-seen resident is probed: if it
// responds it stays and the newcomer is dropped; only an unresponsive
// resident gives up its slot.
func (t *Table) Observe(ctx context.Context, p Peer) error {
	if p.ID == t.self {
		return nil
	}
	idx := t.self.Distance(p.ID).BucketIndex()
	if idx < 0 {
		return nil
	}
	b := &t.buckets[idx]
	now := time.Now()

	b.mu.Lock()
	if i := b.find(p.ID); i >= 0 {
		e := b.entries[i]
		e.peer.LastSeen = now
		if p.Addr != nil {
			e.peer.Addr = p.Addr
		}
		b.moveToBack(i)
		b.mu.Unlock()
		return nil
	}
	p.FirstSeen, p.LastSeen = now, now
	if len(b.entries) < t.bucketSize {
		b.entries = append(b.entries, &entry{peer: p})
		b.mu.Unlock()
		t.log.Debug("admitted peer", zap.Stringer("peer", p.ID), zap.Int("bucket", idx))
		return nil
	}

	// full bucket: the least-recently-seen resident must prove itself
	// before the newcomer takes its slot
	lrs := b.entries[0]
	if t.pinger == nil || lrs.probing {
		b.mu.Unlock()
		return nil
	}
	lrs.probing = true
	resident := lrs.peer
	b.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	pingErr := t.pinger.Ping(probeCtx, resident)
	cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	lrs.probing = false
	i := b.find(resident.ID)
	if i < 0 {
		// resident removed while probing; take the free slot
		if len(b.entries) < t.bucketSize && b.find(p.ID) < 0 {
			b.entries = append(b.entries, &entry{peer: p})
		}
		return nil
	}
	if pingErr != nil && ctx.Err() != nil {
		// the probe was abandoned, not failed; keep the resident
		return ctx.Err()
	}
	if pingErr == nil || lrs.peer.LastSeen.After(now) {
		lrs.peer.LastSeen = time.Now()
		b.moveToBack(i)
		t.log.Debug("kept responsive peer", zap.Stringer("resident", resident.ID), zap.Stringer("dropped", p.ID))
		return nil
	}
	b.remove(i)
	// the newcomer may have been admitted concurrently while the probe ran
	if b.find(p.ID) < 0 {
		b.entries = append(b.entries, &entry{peer: p})
	}
	t.log.Debug("evicted unresponsive peer", zap.Stringer("evicted", resident.ID), zap.Stringer("admitted", p.ID), zap.Int("bucket", idx))
	return nil
}

// Closest returns up to n known peers nearest to target in XOR distance,
// ascending, breaking ties toward the earlier-observed peer. It scans
// outward from the target's bucket and returns copies, so callers never
// hold table state across I/O.
func (t *Table) Closest(target chunk.Address, n int) []Peer {
	if n <= 0 {
		return nil
	}
	start := t.self.Distance(target).BucketIndex()
	if start < 0 {
		start = 0
	}

	var cands []Peer
	collect := func(idx int) {
		if idx < 0 || idx >= BucketCount {
			return
		}
		b := &t.buckets[idx]
		b.mu.Lock()
		for _, e := range b.entries {
			cands = append(cands, e.peer)
		}
		b.mu.Unlock()
	}
	collect(start)
	for radius := 1; len(cands) < n && radius < BucketCount; radius++ {
		collect(start - radius)
		collect(start + radius)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		di, dj := cands[i].ID.Distance(target), cands[j].ID.Distance(target)
		if c := di.Cmp(dj); c != 0 {
			return c < 0
		}
		return cands[i].FirstSeen.Before(cands[j].FirstSeen)
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// Remove deletes a peer. The table never re-adds it on its own; only a
// future Observe starts a new relationship.
func (t *Table) Remove(id NodeID) {
	idx := t.self.Distance(id).BucketIndex()
	if idx < 0 {
		return
	}
	b := &t.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.find(id); i >= 0 {
		b.remove(i)
	}
}

// Len returns the number of peers in the table.
func (t *Table) Len() int {
	var n int
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		n += len(b.entries)
		b.mu.Unlock()
	}
	return n
}

// Snapshot copies the occupied buckets in ascending index order. Peers
// within a bucket are ordered least-recently-seen first.
func (t *Table) Snapshot() []BucketSnapshot {
	var snap []BucketSnapshot
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		if len(b.entries) > 0 {
			peers := make([]Peer, 0, len(b.entries))
			for _, e := range b.entries {
				peers = append(peers, e.peer)
			}
			snap = append(snap, BucketSnapshot{Index: i, Peers: peers})
		}
		b.mu.Unlock()
	}
	return snap
}
