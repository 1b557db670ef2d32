package kad

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shoalstore/shoal/chunk"
)

const (
	// DefaultReplicas is the close group size: how many peers are asked
	// to hold a copy of each chunk.
	DefaultReplicas = 5

	defaultMaxFailures = 3
	defaultCooldown    = 90 * time.Second
)

// ErrDegradedReplication is returned, wrapped and alongside the selected
// peers, when fewer peers than the replication factor are available.
// Callers treat it as a warning, not a failure.
var ErrDegradedReplication = errors.New("degraded replication")

type (
	// SelectorOptions configure a Selector. The zero value applies
	// defaults.
	SelectorOptions struct {
		// Replicas is the number of peers asked to hold each chunk.
		Replicas int
		// MaxFailures is how many consecutive failures sideline a peer.
		MaxFailures int
		// Cooldown is how long a sidelined peer is skipped.
		Cooldown time.Duration
	}

	peerHealth struct {
		failures    int
		lastFailure time.Time
	}

	// A Selector picks the peers to contact for a chunk address,
	// filtering routing table candidates through recent liveness.
	Selector struct {
		table       *Table
		replicas    int
		maxFailures int
		cooldown    time.Duration

		mu     sync.Mutex
		health map[NodeID]*peerHealth
	}
)

// NewSelector creates a peer selector backed by table.
func NewSelector(table *Table, opts SelectorOptions) *Selector {
	if opts.Replicas <= 0 {
		opts.Replicas = DefaultReplicas
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultMaxFailures
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	return &Selector{
		table:       table,
		replicas:    opts.Replicas,
		maxFailures: opts.MaxFailures,
		cooldown:    opts.Cooldown,
		health:      make(map[NodeID]*peerHealth),
	}
}

// Replicas returns the configured replication factor.
func (s *Selector) Replicas() int { return s.replicas }

// MarkFailed records a failed interaction with a peer. A peer failing
// MaxFailures times in a row is skipped until its cooldown elapses.
func (s *Selector) MarkFailed(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[id]
	if !ok {
		h = &peerHealth{}
		s.health[id] = h
	}
	h.failures++
	h.lastFailure = time.Now()
}

// MarkAlive clears a peer's failure record.
func (s *Selector) MarkAlive(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.health, id)
}

func (s *Selector) healthy(id NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[id]
	if !ok || h.failures < s.maxFailures {
		return true
	}
	if time.Since(h.lastFailure) > s.cooldown {
		delete(s.health, id)
		return true
	}
	return false
}

// candidates returns up to n healthy peers near addr, closest first.
func (s *Selector) candidates(addr chunk.Address, n int) []Peer {
	cands := s.table.Closest(addr, n)
	healthy := cands[:0]
	for _, p := range cands {
		if s.healthy(p.ID) {
			healthy = append(healthy, p)
		}
	}
	return healthy
}

// ForStore returns the peers that should hold addr: the closest healthy
// Replicas peers. When fewer are known it returns what it has, wrapped
// with ErrDegradedReplication; storing to fewer peers degrades the
// upload rather than failing it.
func (s *Selector) ForStore(addr chunk.Address) ([]Peer, error) {
	peers := s.candidates(addr, 2*s.replicas)
	if len(peers) > s.replicas {
		peers = peers[:s.replicas]
	}
	if len(peers) < s.replicas {
		return peers, fmt.Errorf("%d of %d replicas: %w", len(peers), s.replicas, ErrDegradedReplication)
	}
	return peers, nil
}

// ForFetch returns candidate holders of addr in closest-first order.
// Callers fail over down the slice one peer at a time.
func (s *Selector) ForFetch(addr chunk.Address) []Peer {
	return s.candidates(addr, 2*s.replicas)
}
