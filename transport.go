package shoal

import (
	"context"

	"github.com/shoalstore/shoal/chunk"
	"github.com/shoalstore/shoal/kad"
)

type (
	// A PaymentProof authorizes peers to hold a set of chunks. Its bytes
	// are opaque here; peers validate them out of band.
	PaymentProof []byte

	// A Payer obtains proof that storage for a set of chunk addresses has
	// been paid for. Uploads acquire the proof before any remote store.
	Payer interface {
		PayForStorage(ctx context.Context, addrs []chunk.Address) (PaymentProof, error)
	}

	// A Transport moves chunks between this node and its peers. The node
	// decides which peer and which address; the transport decides how the
	// bytes move. It also serves as the routing table's liveness prober.
	Transport interface {
		StoreChunk(ctx context.Context, p kad.Peer, c chunk.Chunk, proof PaymentProof) error
		FetchChunk(ctx context.Context, p kad.Peer, addr chunk.Address) ([]byte, error)
		Ping(ctx context.Context, p kad.Peer) error
	}
)
