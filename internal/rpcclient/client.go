// Package rpcclient is the HTTP client side of apiserver, used by
// cmd/persistproc's direct tool subcommands and by tailclient.
//
// Grounded on the teacher's client.Client
// (apps/backend/internal/agentctl/client/client.go): a bare *http.Client
// with a baseURL, one method per remote operation, readResponseBody /
// truncateBody helpers for error messages. The websocket half of the
// teacher's client has no counterpart here: spec §6's wire protocol is
// request/response only, with tailing done by reading the combined log
// file directly rather than a streaming subscription (see tailclient).
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/irskep/persistproc/internal/apperr"
	"github.com/irskep/persistproc/internal/toolsurface"
)

// Client talks to a running persistproc server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client bound to host:port.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Health checks whether the server is reachable and serving.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// Start calls the `start` tool.
func (c *Client) Start(ctx context.Context, args toolsurface.StartArgs) (*toolsurface.StartResult, error) {
	var out toolsurface.StartResult
	if err := c.call(ctx, http.MethodPost, "/tools/start", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop calls the `stop` tool.
func (c *Client) Stop(ctx context.Context, args toolsurface.StopArgs) (*toolsurface.StopResult, error) {
	var out toolsurface.StopResult
	if err := c.call(ctx, http.MethodPost, "/tools/stop", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restart calls the `restart` tool.
func (c *Client) Restart(ctx context.Context, args toolsurface.RestartArgs) (*toolsurface.RestartResult, error) {
	var out toolsurface.RestartResult
	if err := c.call(ctx, http.MethodPost, "/tools/restart", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List calls the `list` tool.
func (c *Client) List(ctx context.Context) (*toolsurface.ListResult, error) {
	var out toolsurface.ListResult
	if err := c.call(ctx, http.MethodGet, "/tools/list", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus calls the `get_status` tool.
func (c *Client) GetStatus(ctx context.Context, args toolsurface.GetStatusArgs) (*toolsurface.ProcessSummary, error) {
	var out toolsurface.ProcessSummary
	if err := c.call(ctx, http.MethodPost, "/tools/get_status", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOutput calls the `get_output` tool.
func (c *Client) GetOutput(ctx context.Context, args toolsurface.GetOutputArgs) (*toolsurface.GetOutputResult, error) {
	var out toolsurface.GetOutputResult
	if err := c.call(ctx, http.MethodPost, "/tools/get_output", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLogPaths calls the `get_log_paths` tool.
func (c *Client) GetLogPaths(ctx context.Context, args toolsurface.GetLogPathsArgs) (*toolsurface.GetLogPathsResult, error) {
	var out toolsurface.GetLogPathsResult
	if err := c.call(ctx, http.MethodPost, "/tools/get_log_paths", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KillPersistproc calls the `kill_persistproc` tool.
func (c *Client) KillPersistproc(ctx context.Context) (*toolsurface.KillPersistprocResult, error) {
	var out toolsurface.KillPersistprocResult
	if err := c.call(ctx, http.MethodPost, "/tools/kill_persistproc", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call issues one HTTP round trip, JSON-encoding body (if any) and
// JSON-decoding the response into out on success, or surfacing the
// server's {"error": "..."} shape as an *apperr.Error on failure.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := readResponseBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if jsonErr := json.Unmarshal(respBody, &errBody); jsonErr == nil && errBody.Error != "" {
			kind := apperr.Kind(errBody.Kind)
			if kind == "" {
				kind = kindForStatus(resp.StatusCode)
			}
			return apperr.New(kind, "%s", errBody.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d, body: %s): %w", resp.StatusCode, truncateBody(respBody), err)
	}
	return nil
}

// kindForStatus is the fallback used when the response body carries no
// "kind" field (e.g. an error from an intermediary, not apiserver
// itself). It can only bucket by HTTP status, so it collapses distinct
// kinds sharing a status (all four bad-argument kinds map to 400).
func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusNotFound:
		return apperr.NotFound
	case http.StatusConflict:
		return apperr.Duplicate
	case http.StatusForbidden:
		return apperr.PermissionDenied
	case http.StatusBadRequest:
		return apperr.SpawnFailed
	case http.StatusGatewayTimeout:
		return apperr.Timeout
	default:
		return ""
	}
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
