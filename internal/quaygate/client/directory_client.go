package client

import (
	"context"
	"net/http"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// DirectoryClient is the port server's upstream resolver.
type DirectoryClient struct {
	hc      *http.Client
	baseURL string
}

func NewDirectoryClient(baseURL string, opts Options) *DirectoryClient {
	return &DirectoryClient{hc: newHTTPClient(opts), baseURL: baseURL}
}

func (c *DirectoryClient) Lookup(ctx context.Context, req types.LookupRequest) (types.LookupResponse, error) {
	var resp types.LookupResponse
	if err := postJSON(ctx, c.hc, joinURL(c.baseURL, "/v1/lookup"), req, &resp); err != nil {
		return types.LookupResponse{}, err
	}
	return resp, nil
}
