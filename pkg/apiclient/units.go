package apiclient

import (
	"context"

	"github.com/marmos91/dittobundle/pkg/lifecycle"
)

// Health is the data of the liveness probe.
type Health struct {
	Service    string `json:"service"`
	InstanceID string `json:"instance_id,omitempty"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ready calls GET /health/ready. A manager still bootstrapping returns an
// *APIError with IsUnavailable set.
func (c *Client) Ready(ctx context.Context) error {
	return c.get(ctx, "/health/ready", nil)
}

// Units calls GET /api/v1/units.
func (c *Client) Units(ctx context.Context) ([]lifecycle.UnitInfo, error) {
	var units []lifecycle.UnitInfo
	if err := c.get(ctx, "/api/v1/units", &units); err != nil {
		return nil, err
	}
	return units, nil
}

// Stats calls GET /api/v1/stats.
func (c *Client) Stats(ctx context.Context) (*lifecycle.Stats, error) {
	var stats lifecycle.Stats
	if err := c.get(ctx, "/api/v1/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
