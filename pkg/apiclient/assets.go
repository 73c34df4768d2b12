package apiclient

import (
	"context"
	"net/http"

	"github.com/marmos91/dittobundle/pkg/api/handlers"
)

// Assets calls GET /api/v1/assets.
func (c *Client) Assets(ctx context.Context) ([]handlers.AssetKey, error) {
	var keys []handlers.AssetKey
	if err := c.get(ctx, "/api/v1/assets", &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Load calls POST /api/v1/assets/load.
//
// A load that fails on the server comes back as both a response (with the
// handle to release) and an *APIError. A load still pending when the server
// stops waiting has Pending set.
func (c *Client) Load(ctx context.Context, req handlers.LoadRequest) (*handlers.LoadResponse, error) {
	var resp handlers.LoadResponse
	status, err := c.post(ctx, "/api/v1/assets/load", req, &resp)
	if err != nil {
		if resp.Handle != 0 {
			return &resp, err
		}
		return nil, err
	}
	if status == http.StatusAccepted {
		resp.Pending = true
	}
	return &resp, nil
}

// UnloadHandle releases one handle. Returns an *APIError with IsNotFound
// for unknown handles.
func (c *Client) UnloadHandle(ctx context.Context, handle uint64) (int, error) {
	return c.unload(ctx, handlers.UnloadRequest{Handle: handle})
}

// UnloadPath releases every record and object loaded at path of type t.
func (c *Client) UnloadPath(ctx context.Context, path, t string, inherit bool) (int, error) {
	return c.unload(ctx, handlers.UnloadRequest{Path: path, Type: t, Inherit: inherit})
}

func (c *Client) unload(ctx context.Context, req handlers.UnloadRequest) (int, error) {
	var out struct {
		Released int `json:"released"`
	}
	if _, err := c.post(ctx, "/api/v1/assets/unload", req, &out); err != nil {
		return 0, err
	}
	return out.Released, nil
}
