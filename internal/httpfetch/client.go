// Package httpfetch provides the shared HTTP client and worker-pool
// downloader used by the platform adapters and the recorder's segment
// poller. It generalizes the teacher's dash.Client/dash.Downloader (which
// spoke only to a single DASH origin with a single User-Agent) to an
// arbitrary set of request headers per call, since platform adapters each
// need their own cookie jar and referer.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/logger"
)

// Client wraps http.Client with the timeouts the teacher's dash.Client
// used for origin fetches: a short response-header timeout so a stalled
// origin fails fast instead of hanging a poll cycle.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient builds a Client with the given response-header timeout.
func NewClient(log logger.Logger, responseHeaderTimeout time.Duration) *Client {
	transport := &http.Transport{
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     log,
	}
}

// HTTPClient exposes the underlying *http.Client for packages that need to
// hand it to another library (e.g. a websocket dialer reusing the same
// transport settings).
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Fetch performs a GET request with the given headers and returns the
// response body, failing on any non-200 status.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	data, _, err := c.FetchWithStatus(ctx, url, headers)
	return data, err
}

// FetchWithStatus is like Fetch but also returns the HTTP status code,
// letting callers distinguish e.g. a 404 (room not live) from a transient
// network failure.
func (c *Client) FetchWithStatus(ctx context.Context, url string, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, apperr.New(apperr.Protocol, "httpfetch.Fetch", fmt.Errorf("build request: %w", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debugf("httpfetch: GET %s", url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, apperr.New(apperr.TransientNetwork, "httpfetch.Fetch", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apperr.New(apperr.TransientNetwork, "httpfetch.Fetch", fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return data, resp.StatusCode, apperr.Newf(apperr.Protocol, "httpfetch.Fetch", "unexpected status %d from %s", resp.StatusCode, url)
	}

	return data, resp.StatusCode, nil
}
