package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/multiformats/go-multiaddr"
	"github.com/shoalstore/shoal"
	"github.com/shoalstore/shoal/build"
	"github.com/shoalstore/shoal/chunk"
	"github.com/shoalstore/shoal/config"
	"github.com/shoalstore/shoal/kad"
	"go.sia.tech/jape"
	"go.uber.org/zap"
)

// defaultMaxUploadSize caps upload request bodies when the config does
// not set a limit.
const defaultMaxUploadSize = 256 << 20 // 256 MiB

type (
	apiServer struct {
		node *shoal.Node
		log  *zap.Logger

		maxUploadSize int64
	}
)

func (as *apiServer) handleState(jc jape.Context) {
	count, err := as.node.Store().Count(jc.Request.Context())
	if err != nil {
		jc.Error(err, http.StatusInternalServerError)
		return
	}
	jc.Encode(StateResp{
		ID:        as.node.Self(),
		Version:   build.Version(),
		Commit:    build.Commit(),
		BuildTime: build.Time(),
		Peers:     as.node.PeerCount(),
		Chunks:    count,
	})
}

func (as *apiServer) handleUpload(jc jape.Context) {
	ctx := jc.Request.Context()

	body := http.MaxBytesReader(jc.ResponseWriter, jc.Request.Body, as.maxUploadSize)
	defer body.Close()

	data, err := io.ReadAll(body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		jc.Error(err, http.StatusRequestEntityTooLarge)
		return
	} else if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	m, err := as.node.Upload(ctx, data)
	if errors.Is(err, chunk.ErrEmptyInput) || errors.Is(err, chunk.ErrInsufficientChunks) {
		jc.Error(err, http.StatusBadRequest)
		return
	} else if err != nil {
		jc.Error(err, http.StatusInternalServerError)
		return
	}
	jc.Encode(m)
}

func (as *apiServer) handleDownload(jc jape.Context) {
	ctx := jc.Request.Context()

	var m chunk.DataMap
	if err := jc.Decode(&m); err != nil {
		return
	}

	data, err := as.node.Download(ctx, m)
	if err != nil {
		as.log.Warn("failed to download payload", zap.Error(err))
		jc.Error(err, http.StatusInternalServerError)
		return
	}
	jc.ResponseWriter.Header().Set("Content-Type", "application/octet-stream")
	if _, err := jc.ResponseWriter.Write(data); err != nil {
		as.log.Debug("failed to write payload", zap.Error(err))
	}
}

func (as *apiServer) handleChunk(jc jape.Context) {
	var addrStr string
	if err := jc.DecodeParam("address", &addrStr); err != nil {
		return
	}
	addr, err := chunk.ParseAddress(addrStr)
	if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	c, err := as.node.Store().GetChunk(jc.Request.Context(), addr)
	if errors.Is(err, shoal.ErrNotFound) {
		jc.Error(err, http.StatusNotFound)
		return
	} else if err != nil {
		jc.Error(err, http.StatusInternalServerError)
		return
	}
	jc.Encode(ChunkResp{
		Address: c.Address,
		Size:    uint64(len(c.Data)),
	})
}

func (as *apiServer) handleChunkData(jc jape.Context) {
	var addrStr string
	if err := jc.DecodeParam("address", &addrStr); err != nil {
		return
	}
	addr, err := chunk.ParseAddress(addrStr)
	if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	c, err := as.node.Store().GetChunk(jc.Request.Context(), addr)
	if errors.Is(err, shoal.ErrNotFound) {
		jc.Error(err, http.StatusNotFound)
		return
	} else if err != nil {
		jc.Error(err, http.StatusInternalServerError)
		return
	}
	jc.ResponseWriter.Header().Set("Content-Type", "application/octet-stream")
	if _, err := jc.ResponseWriter.Write(c.Data); err != nil {
		as.log.Debug("failed to write chunk", zap.Error(err))
	}
}

func (as *apiServer) handleRouting(jc jape.Context) {
	snapshot := as.node.RoutingSnapshot()
	resp := make([]RoutingBucketResp, 0, len(snapshot))
	for _, b := range snapshot {
		peers := make([]RoutingPeer, 0, len(b.Peers))
		for _, p := range b.Peers {
			rp := RoutingPeer{
				ID:        p.ID,
				FirstSeen: p.FirstSeen,
				LastSeen:  p.LastSeen,
			}
			if p.Addr != nil {
				rp.Address = p.Addr.String()
			}
			peers = append(peers, rp)
		}
		resp = append(resp, RoutingBucketResp{Index: b.Index, Peers: peers})
	}
	jc.Encode(resp)
}

func (as *apiServer) handleAddPeer(jc jape.Context) {
	var req AddPeerReq
	if err := jc.Decode(&req); err != nil {
		return
	}

	id, err := chunk.ParseAddress(req.ID)
	if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}
	addr, err := multiaddr.NewMultiaddr(req.Address)
	if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	if err := as.node.Observe(jc.Request.Context(), kad.Peer{ID: id, Addr: addr}); err != nil {
		jc.Error(err, http.StatusInternalServerError)
		return
	}
}

// NewAPIHandler returns a new http.Handler that handles requests to the api
func NewAPIHandler(node *shoal.Node, cfg config.Config, log *zap.Logger) http.Handler {
	maxUploadSize := cfg.API.MaxUploadSize
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	s := &apiServer{
		node: node,
		log:  log,

		maxUploadSize: maxUploadSize,
	}
	return jape.Mux(map[string]jape.Handler{
		"GET /api/state":                s.handleState,
		"POST /api/data":                s.handleUpload,
		"POST /api/data/fetch":          s.handleDownload,
		"GET /api/chunks/:address":      s.handleChunk,
		"GET /api/chunks/:address/data": s.handleChunkData,
		"GET /api/routing":              s.handleRouting,
		"POST /api/peers":               s.handleAddPeer,
	})
}
