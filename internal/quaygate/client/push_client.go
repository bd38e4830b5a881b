package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// PushClient delivers mutations downstream to a fixed set of targets,
// keyed by id: the directory uses one with port-server URLs, a port
// server uses one with checkpoint URLs.
type PushClient struct {
	hc      *http.Client
	targets map[string]string // target id → base URL
}

func NewPushClient(targets map[string]string, opts Options) *PushClient {
	return &PushClient{hc: newHTTPClient(opts), targets: targets}
}

// Deliver delivers one mutation and returns the receiver's apply
// status. An unknown target is an error: silently skipping it would
// look like an ack.
func (c *PushClient) Deliver(ctx context.Context, targetID string, m types.Mutation) (types.ApplyStatus, error) {
	base, ok := c.targets[targetID]
	if !ok {
		return "", fmt.Errorf("no push target configured for %q", targetID)
	}

	var resp types.PushResponse
	err := postJSON(ctx, c.hc, joinURL(base, "/v1/mutations"), types.PushRequest{Mutation: m}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}
