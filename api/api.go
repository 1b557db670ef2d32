// Package api provides a client for the shoald HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shoalstore/shoal/chunk"
	shttp "github.com/shoalstore/shoal/http"
)

// A Client accesses a shoald node over its HTTP API.
type Client struct {
	address  string
	password string
}

// NewClient returns a client for the API rooted at address, e.g.
// "http://localhost:9480/api".
func NewClient(address, password string) *Client {
	return &Client{address: address, password: password}
}

func (c *Client) do(ctx context.Context, method, route string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.address+route, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth("", c.password)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s", method, route, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, route string, v interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, route, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

// State returns the node's identity, build, and stored state.
func (c *Client) State(ctx context.Context) (shttp.StateResp, error) {
	var resp shttp.StateResp
	err := c.getJSON(ctx, "/state", &resp)
	return resp, err
}

// Upload stores the payload read from r and returns its data map, the
// sole capability for downloading it later.
func (c *Client) Upload(ctx context.Context, r io.Reader) (chunk.DataMap, error) {
	resp, err := c.do(ctx, http.MethodPost, "/data", r)
	if err != nil {
		return chunk.DataMap{}, err
	}
	defer resp.Body.Close()
	var m chunk.DataMap
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return chunk.DataMap{}, fmt.Errorf("failed to decode data map: %w", err)
	}
	return m, nil
}

// Download streams the payload described by m. The caller must close the
// returned reader.
func (c *Client) Download(ctx context.Context, m chunk.DataMap) (io.ReadCloser, error) {
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data map: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/data/fetch", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Chunk returns metadata for a locally stored chunk.
func (c *Client) Chunk(ctx context.Context, addr chunk.Address) (shttp.ChunkResp, error) {
	var resp shttp.ChunkResp
	err := c.getJSON(ctx, fmt.Sprintf("/chunks/%v", addr), &resp)
	return resp, err
}

// ChunkData streams the ciphertext of a locally stored chunk. The caller
// must close the returned reader.
func (c *Client) ChunkData(ctx context.Context, addr chunk.Address) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chunks/%v/data", addr), nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Routing returns a snapshot of the node's routing table.
func (c *Client) Routing(ctx context.Context) ([]shttp.RoutingBucketResp, error) {
	var resp []shttp.RoutingBucketResp
	err := c.getJSON(ctx, "/routing", &resp)
	return resp, err
}

// AddPeer seeds the node's routing table with a peer.
func (c *Client) AddPeer(ctx context.Context, id chunk.Address, addr string) error {
	buf, err := json.Marshal(shttp.AddPeerReq{ID: id.String(), Address: addr})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/peers", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
