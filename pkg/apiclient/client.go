// Package apiclient is a REST client for the dbundle HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marmos91/dittobundle/pkg/api/middleware"
)

// Client talks to one running dbundle instance.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// instance is the X-Dbundle-Instance value of the last response.
	instance string
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithTimeout returns a copy of the client using the given request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	return &Client{
		baseURL:    c.baseURL,
		httpClient: &http.Client{Timeout: d},
	}
}

// Instance returns the manager instance id reported by the last API call.
func (c *Client) Instance() string { return c.instance }

// envelope mirrors the server's response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// do performs a request and decodes the envelope's data into result.
// Non-2xx responses become *APIError; data they carry is still decoded.
func (c *Client) do(ctx context.Context, method, path string, body, result any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if id := resp.Header.Get(middleware.InstanceHeader); id != "" {
		c.instance = id
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		if decodeErr == nil && env.Error != "" {
			apiErr.Message = env.Error
		}
		if decodeErr == nil && result != nil && len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, result)
		}
		return resp.StatusCode, apiErr
	}
	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	_, err := c.do(ctx, http.MethodGet, path, nil, result)
	return err
}

func (c *Client) post(ctx context.Context, path string, body, result any) (int, error) {
	return c.do(ctx, http.MethodPost, path, body, result)
}
