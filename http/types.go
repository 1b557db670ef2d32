package http

import (
	"time"

	"github.com/shoalstore/shoal/chunk"
)

type (
	// A StateResp reports the node's identity, build, and stored state.
	StateResp struct {
		ID        chunk.Address `json:"id"`
		Version   string        `json:"version"`
		Commit    string        `json:"commit"`
		BuildTime time.Time     `json:"buildTime"`
		Peers     int           `json:"peers"`
		Chunks    uint64        `json:"chunks"`
	}

	// A ChunkResp describes a stored chunk.
	ChunkResp struct {
		Address chunk.Address `json:"address"`
		Size    uint64        `json:"size"`
	}

	// An AddPeerReq seeds the routing table with a peer.
	AddPeerReq struct {
		ID      string `json:"id"`
		Address string `json:"address"`
	}

	// A RoutingPeer describes one peer of a routing bucket.
	RoutingPeer struct {
		ID        chunk.Address `json:"id"`
		Address   string        `json:"address"`
		FirstSeen time.Time     `json:"firstSeen"`
		LastSeen  time.Time     `json:"lastSeen"`
	}

	// A RoutingBucketResp reports one occupied routing bucket.
	RoutingBucketResp struct {
		Index int           `json:"index"`
		Peers []RoutingPeer `json:"peers"`
	}
)
