// Package client holds the HTTP clients the tiers use to talk to each
// other. Transient failures are retried with backoff; anything that
// exhausts its retries surfaces as an error so callers fail closed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultTimeout = 10 * time.Second

// Options tune the shared retrying HTTP client.
type Options struct {
	Timeout       time.Duration
	RetryAttempts int
}

func newHTTPClient(opts Options) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryAttempts
	if rc.RetryMax <= 0 {
		rc.RetryMax = 3
	}
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = opts.Timeout
	if rc.HTTPClient.Timeout <= 0 {
		rc.HTTPClient.Timeout = defaultTimeout
	}
	rc.Logger = nil
	return rc.StandardClient()
}

// postJSON encodes in, posts it, and decodes a 200 response into out
// (which may be nil). Any other status is returned as an error with
// the server's code field when present.
func postJSON(ctx context.Context, hc *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(url, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func statusError(url string, resp *http.Response) error {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &e); err == nil && e.Code != "" {
		return fmt.Errorf("%s: %s (%s)", url, e.Code, strings.TrimSpace(e.Message))
	}
	return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
