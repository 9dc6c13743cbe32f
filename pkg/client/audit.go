package client

import (
	"context"
	"time"

	"github.com/MikeDominic92/keyless-kingdom/internal/api"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

// ListDecisions queries the audit log of the server.
func (c *Client) ListDecisions(ctx context.Context, f core.AuditFilter) ([]core.FederationDecision, string, error) {
	ub := c.url().setPath(api.DecisionsRoute).
		addQueryParamIf("correlation_id", f.CorrelationID).
		addQueryParamIf("provider", f.Provider).
		addQueryParamIf("kind", string(f.Kind)).
		addQueryParamIf("reason", string(f.Reason)).
		addQueryParamIf("subject", f.Subject)
	if f.Limit > 0 {
		ub = ub.addQueryParam("limit", f.Limit)
	}
	if !f.Since.IsZero() {
		ub = ub.addQueryParam("since", f.Since.Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		ub = ub.addQueryParam("until", f.Until.Format(time.RFC3339))
	}

	var resp []core.FederationDecision
	correlation, err := c.get(ctx, ub.build(), &resp)
	return resp, correlation, err
}

func (c *Client) GetDecision(ctx context.Context, id string) (*core.FederationDecision, string, error) {
	var resp core.FederationDecision
	correlation, err := c.get(ctx, c.url().
		setPath(api.DecisionRoute).
		setPathParam("id", id).
		build(), &resp)
	if err != nil {
		return nil, correlation, err
	}
	return &resp, correlation, nil
}

func (c *Client) ExplainTrace(ctx context.Context, req service.ExplainRequest) (*core.MatchTrace, string, error) {
	var trace core.MatchTrace
	correlation, err := c.post(ctx, c.url().
		setPath(api.ExplainRoute).
		build(), req, &trace)
	if err != nil {
		return nil, correlation, err
	}
	return &trace, correlation, nil
}
