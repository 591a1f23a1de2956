// Package apiclient talks to a running bridge over its HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/httpapi"
	"rockerboo/rust-analyzer-bridge/logger"
)

// APIError is a non-OK envelope returned by the server.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// Client is an HTTP API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL, e.g. "http://127.0.0.1:15423".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// NewForAddr returns a client for host and port.
func NewForAddr(host string, port int) *Client {
	return New(fmt.Sprintf("http://%s:%d", host, port))
}

// Health is the body of GET /api/v1/health.
type Health struct {
	Status      string `json:"status"`
	Workspace   string `json:"workspace"`
	Initialized bool   `json:"initialized"`
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WaitHealthy polls Health until it succeeds, ctx ends or attempts run out.
func (c *Client) WaitHealthy(ctx context.Context, attempts int, interval time.Duration) (*Health, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		h, err := c.Health(ctx)
		if err == nil {
			return h, nil
		}
		lastErr = err
		logger.Debug("Health check failed", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("server at %s not healthy after %d attempts: %w", c.baseURL, attempts, lastErr)
}

// Status returns the bridge status.
func (c *Client) Status(ctx context.Context) (*bridge.Status, error) {
	var st bridge.Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Tools returns the names accepted by Call.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	var out struct {
		Tools []string `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/tools", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// Workspace returns the current workspace.
func (c *Client) Workspace(ctx context.Context) (*bridge.WorkspaceInfo, error) {
	var ws bridge.WorkspaceInfo
	if err := c.do(ctx, http.MethodGet, "/workspace", nil, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// SetWorkspace points the bridge at a new root.
func (c *Client) SetWorkspace(ctx context.Context, path string) (*bridge.WorkspaceInfo, error) {
	var ws bridge.WorkspaceInfo
	if err := c.do(ctx, http.MethodPost, "/workspace", map[string]string{"workspace_path": path}, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// Call runs a tool with args and returns the raw envelope.
func (c *Client) Call(ctx context.Context, tool string, args any) (*httpapi.Response, error) {
	if tool == "" {
		return nil, errors.New("tool name is required")
	}
	return c.envelope(ctx, http.MethodPost, "/"+tool, args)
}

// Shutdown asks the server to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.envelope(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", path, err)
	}
	return nil
}

func (c *Client) envelope(ctx context.Context, method, path string, body any) (*httpapi.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var env httpapi.Response
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return nil, &APIError{StatusCode: res.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if !env.OK {
		return nil, &APIError{StatusCode: res.StatusCode, Kind: env.Kind, Message: env.Error}
	}
	return &env, nil
}
