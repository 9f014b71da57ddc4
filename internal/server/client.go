package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/criteria"
	sgerrors "github.com/standardbeagle/staleguard/internal/errors"
	"github.com/standardbeagle/staleguard/internal/index"
)

// DefaultTimeout bounds a client call when none is configured
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response becomes the message
const maxErrorBody = 4096

// Client talks to an IndexServer. It implements backend.Searcher.
type Client struct {
	httpClient *http.Client
	socketPath string
}

var _ backend.Searcher = (*Client)(nil)

// NewClientWithSocket creates a client for the server listening on socketPath.
// A zero timeout uses DefaultTimeout.
func NewClientWithSocket(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: timeout,
	}
	return &Client{
		httpClient: httpClient,
		socketPath: socketPath,
	}
}

// SocketPath returns the socket the client dials
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// IsServerRunning checks if the server is accessible
func (c *Client) IsServerRunning(ctx context.Context) bool {
	_, err := c.Ping(ctx)
	return err == nil
}

// Ping sends a health check to the server
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	var resp PingResponse
	if err := c.do(ctx, http.MethodGet, "/ping", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus retrieves the current index status
func (c *Client) GetStatus(ctx context.Context) (*IndexStatus, error) {
	var resp IndexStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search implements backend.Searcher. A non-2xx answer is a *backend.HTTPError.
func (c *Client) Search(ctx context.Context, crit criteria.Criteria) (backend.Page, error) {
	var page backend.Page
	if err := c.do(ctx, http.MethodPost, "/search", SearchRequest{Criteria: crit}, &page); err != nil {
		return backend.Page{}, err
	}
	return page, nil
}

// Put stages documents and returns their IDs
func (c *Client) Put(ctx context.Context, docs ...index.Document) ([]string, error) {
	var resp PutResponse
	if err := c.do(ctx, http.MethodPost, "/documents", PutRequest{Documents: docs}, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Delete stages removal of a document
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/documents?id="+url.QueryEscape(id), nil, nil)
}

// Commit makes staged writes visible now
func (c *Client) Commit(ctx context.Context) (int, error) {
	var resp CommitResponse
	if err := c.do(ctx, http.MethodPost, "/commit", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Committed, nil
}

// Reindex asks the server to rebuild the index from disk
func (c *Client) Reindex(ctx context.Context) (*ReindexResponse, error) {
	var resp ReindexResponse
	if err := c.do(ctx, http.MethodPost, "/reindex", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the server to exit
func (c *Client) Shutdown(ctx context.Context, force bool) error {
	return c.do(ctx, http.MethodPost, "/shutdown", ShutdownRequest{Force: force}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return sgerrors.NewTransportError(method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &backend.HTTPError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
