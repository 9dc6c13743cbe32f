package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/MikeDominic92/keyless-kingdom/internal/api"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

// Authenticate exchanges an identity token for a credential of provider.
//
// Denials are not errors: the decision is returned with a nil credential.
// An error means the request failed before a decision was recorded.
func (c *Client) Authenticate(
	ctx context.Context,
	identityToken string,
	provider string,
) (*service.AuthenticateResponse, string, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.url().
		setPath(api.AuthenticateRoute).
		build(), api.AuthenticatePayload{Provider: provider})
	if err != nil {
		return nil, "", err
	}
	// the identity token replaces any admin session
	req.Header.Set("Authorization", "Bearer "+identityToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("connection failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	correlation := correlationFromResponse(resp)

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusForbidden, http.StatusBadGateway:
		var result service.AuthenticateResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, correlation, fmt.Errorf("decoding response: %w", err)
		}
		return &result, correlation, nil
	default:
		return nil, correlation, parseErrorResponse(resp)
	}
}
