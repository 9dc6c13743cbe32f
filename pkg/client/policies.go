package client

import (
	"context"

	"github.com/MikeDominic92/keyless-kingdom/internal/api"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

// ListPolicies lists the policies of provider, or all if provider is empty.
func (c *Client) ListPolicies(ctx context.Context, provider string) ([]core.TrustPolicy, string, error) {
	var resp []core.TrustPolicy
	correlation, err := c.get(ctx, c.url().
		setPath(api.PoliciesRoute).
		addQueryParamIf("provider", provider).
		build(), &resp)
	return resp, correlation, err
}

func (c *Client) GetPolicy(ctx context.Context, provider, role string) (*core.TrustPolicy, string, error) {
	var resp core.TrustPolicy
	correlation, err := c.get(ctx, c.url().
		setPath(api.PoliciesRoute).
		addQueryParam("provider", provider).
		addQueryParam("role", role).
		build(), &resp)
	if err != nil {
		return nil, correlation, err
	}
	return &resp, correlation, nil
}

func (c *Client) PutPolicy(ctx context.Context, p core.TrustPolicy) (*service.PutPolicyResponse, string, error) {
	var resp service.PutPolicyResponse
	correlation, err := c.put(ctx, c.url().
		setPath(api.PoliciesRoute).
		build(), p, &resp)
	if err != nil {
		return nil, correlation, err
	}
	return &resp, correlation, nil
}

// KeySets returns the signing keys the server has cached per issuer.
func (c *Client) KeySets(ctx context.Context) (map[string]*api.KeySetInfo, string, error) {
	var resp map[string]*api.KeySetInfo
	correlation, err := c.get(ctx, c.url().
		setPath(api.KeySetsRoute).
		build(), &resp)
	return resp, correlation, err
}
