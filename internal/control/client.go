// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultClientTimeout bounds requests that do not run agent code.
const DefaultClientTimeout = 2 * time.Second

// ErrNotRunning is returned when no host listens on the socket.
var ErrNotRunning = errors.New("host is not running")

// RequestError is a failed control request.
type RequestError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// Client talks to a running host over its control socket.
type Client struct {
	socketPath string
	http       *http.Client
}

// NewClient creates a client for the socket at socketPath. Requests are
// bounded by their context; DefaultClientTimeout applies to status
// queries.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Health checks that the host responds.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, DefaultClientTimeout, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns process information about the host.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, DefaultClientTimeout, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Agents returns the load status of the host's artifacts, optionally
// filtered by source.
func (c *Client) Agents(ctx context.Context, source string) ([]AgentStatus, error) {
	path := "/agents"
	if source != "" {
		path += "?source=" + url.QueryEscape(source)
	}
	var resp []AgentStatus
	if err := c.do(ctx, DefaultClientTimeout, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Invoke executes operation on agent id with args.
func (c *Client) Invoke(ctx context.Context, id, operation string, args []any) (any, error) {
	path := "/agents/" + url.PathEscape(id) + "/operations/" + url.PathEscape(operation)
	var resp InvokeResponse
	if err := c.do(ctx, 0, http.MethodPost, path, InvokeRequest{Args: args}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Reload re-reads agent id from disk and returns the new instance id.
func (c *Client) Reload(ctx context.Context, id string) (string, error) {
	var resp ReloadResponse
	if err := c.do(ctx, 0, http.MethodPost, "/agents/"+url.PathEscape(id)+"/reload", nil, &resp); err != nil {
		return "", err
	}
	return resp.Instance, nil
}

// Shutdown asks the host to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, DefaultClientTimeout, http.MethodPost, "/shutdown", nil, &ShutdownResponse{})
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://agenthost"+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %s", ErrNotRunning, c.socketPath)
		}
		return fmt.Errorf("control request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: e.Error, Code: e.Code}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
