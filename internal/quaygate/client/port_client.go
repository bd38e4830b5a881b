package client

import (
	"context"
	"net/http"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// PortClient is the checkpoint's view of its port server: cache-miss
// lookups, audit forwarding, heartbeats, and registration.
type PortClient struct {
	hc           *http.Client
	baseURL      string
	checkpointID string
}

func NewPortClient(baseURL, checkpointID string, opts Options) *PortClient {
	return &PortClient{
		hc:           newHTTPClient(opts),
		baseURL:      baseURL,
		checkpointID: checkpointID,
	}
}

// Lookup resolves a credential on a cache miss. The port server
// filters by this checkpoint's lane before answering.
func (c *PortClient) Lookup(ctx context.Context, credentialID string) (types.LookupResponse, error) {
	var resp types.LookupResponse
	err := postJSON(ctx, c.hc, joinURL(c.baseURL, "/v1/lookup"), types.LookupRequest{
		CredentialID: credentialID,
		CheckpointID: c.checkpointID,
	}, &resp)
	if err != nil {
		return types.LookupResponse{}, err
	}
	return resp, nil
}

// PushEvents forwards a spooled audit batch. A non-200 keeps the batch
// at the checkpoint for retry.
func (c *PortClient) PushEvents(ctx context.Context, batch types.EventBatch) error {
	return postJSON(ctx, c.hc, joinURL(c.baseURL, "/v1/events"), batch, nil)
}

// Heartbeat reports liveness and spool health.
func (c *PortClient) Heartbeat(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResponse, error) {
	var resp types.HeartbeatResponse
	if err := postJSON(ctx, c.hc, joinURL(c.baseURL, "/v1/heartbeat"), req, &resp); err != nil {
		return types.HeartbeatResponse{}, err
	}
	return resp, nil
}

// Register provisions this checkpoint's lane policy at the port server.
func (c *PortClient) Register(ctx context.Context, pol types.CheckpointPolicy) error {
	return postJSON(ctx, c.hc, joinURL(c.baseURL, "/v1/checkpoints"),
		types.RegisterCheckpointRequest{Policy: pol}, nil)
}
