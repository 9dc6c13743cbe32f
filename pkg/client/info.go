package client

import (
	"context"

	"github.com/MikeDominic92/keyless-kingdom/internal/api"
)

func (c *Client) Info(ctx context.Context) (*api.AboutResponse, string, error) {
	var info api.AboutResponse
	correlation, err := c.get(ctx, c.url().
		setPath(api.AboutRoute).
		build(), &info)
	return &info, correlation, err
}
