package kad_test

import (
	"context"
	"testing"
	"time"

	"github.com/shoalstore/shoal/chunk"
	"github.com/shoalstore/shoal/kad"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"lukechampine.com/frand"
)

func containsPeer(peers []kad.Peer, id kad.NodeID) bool {
	for _, p := range peers {
		if p.ID == id {
			return true
		}
	}
	return false
}

func TestSelectorForStore(t *testing.T) {
	log := zaptest.NewLogger(t)
	self := kad.NodeID(frand.Entropy256())
	table := kad.NewTable(self, nil, kad.TableOptions{}, log)
	sel := kad.NewSelector(table, kad.SelectorOptions{})

	ctx := context.Background()
	addr := chunk.AddressOf(frand.Bytes(32))

	// an empty table degrades to zero replicas
	peers, err := sel.ForStore(addr)
	require.ErrorIs(t, err, kad.ErrDegradedReplication)
	require.Empty(t, peers)

	for i := 0; i < 3; i++ {
		require.NoError(t, table.Observe(ctx, testPeer(kad.NodeID(frand.Entropy256()))))
	}
	peers, err = sel.ForStore(addr)
	require.ErrorIs(t, err, kad.ErrDegradedReplication)
	require.Len(t, peers, 3)

	for i := 0; i < 12; i++ {
		require.NoError(t, table.Observe(ctx, testPeer(kad.NodeID(frand.Entropy256()))))
	}
	peers, err = sel.ForStore(addr)
	require.NoError(t, err)
	require.Len(t, peers, kad.DefaultReplicas)

	// deterministic for a fixed table
	again, err := sel.ForStore(addr)
	require.NoError(t, err)
	require.Equal(t, peers, again)

	// selection follows the distance order
	for i := 1; i < len(peers); i++ {
		prev := peers[i-1].ID.Distance(addr)
		next := peers[i].ID.Distance(addr)
		require.LessOrEqual(t, prev.Cmp(next), 0)
	}
}

func TestSelectorHealth(t *testing.T) {
	log := zaptest.NewLogger(t)
	self := kad.NodeID(frand.Entropy256())
	table := kad.NewTable(self, nil, kad.TableOptions{}, log)
	sel := kad.NewSelector(table, kad.SelectorOptions{
		Replicas:    5,
		MaxFailures: 2,
		Cooldown:    100 * time.Millisecond,
	})

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, table.Observe(ctx, testPeer(kad.NodeID(frand.Entropy256()))))
	}

	addr := chunk.AddressOf(frand.Bytes(32))
	peers := sel.ForFetch(addr)
	require.NotEmpty(t, peers)
	victim := peers[0].ID

	// one failure is forgiven
	sel.MarkFailed(victim)
	require.True(t, containsPeer(sel.ForFetch(addr), victim))

	// a second sidelines the peer
	sel.MarkFailed(victim)
	require.False(t, containsPeer(sel.ForFetch(addr), victim))

	// the store path routes around it without degrading
	stored, err := sel.ForStore(addr)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	require.False(t, containsPeer(stored, victim))

	// a successful interaction clears the record
	sel.MarkAlive(victim)
	require.True(t, containsPeer(sel.ForFetch(addr), victim))

	// so does waiting out the cooldown
	sel.MarkFailed(victim)
	sel.MarkFailed(victim)
	require.False(t, containsPeer(sel.ForFetch(addr), victim))
	time.Sleep(150 * time.Millisecond)
	require.True(t, containsPeer(sel.ForFetch(addr), victim))
}
