package issuers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

var _ core.KeySource = (*OIDCSource)(nil)

// OIDCSource discovers the jwks_uri of an issuer through its
// /.well-known/openid-configuration document and fetches the keys from there.
// Discovery runs on every fetch so a moved jwks_uri is picked up.
type OIDCSource struct {
	issuerURL string
	client    *http.Client
}

func NewOIDCSource(issuerURL string, client *http.Client) *OIDCSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &OIDCSource{issuerURL: issuerURL, client: client}
}

func (o *OIDCSource) FetchKeys(ctx context.Context) (map[string]any, error) {
	jwksURL, err := o.discover(ctx)
	if err != nil {
		return nil, err
	}
	return fetchJWKS(ctx, o.client, jwksURL)
}

func (o *OIDCSource) discover(ctx context.Context) (string, error) {
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, o.client), o.issuerURL)
	if err != nil {
		return "", fmt.Errorf("discovering oidc provider '%s': %w", o.issuerURL, err)
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("reading discovery document of '%s': %w", o.issuerURL, err)
	}
	if meta.JWKSURL == "" {
		return "", fmt.Errorf("discovery document of '%s' has no jwks_uri", o.issuerURL)
	}
	return meta.JWKSURL, nil
}
