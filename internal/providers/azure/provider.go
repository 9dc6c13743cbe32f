package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const (
	Type = "azure"

	DefaultAuthorityHost = "https://login.microsoftonline.com"
	DefaultScope         = "https://management.azure.com/.default"

	//nolint:gosec // urn, not a credential
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

var info = core.ProviderInfo{
	Type:    Type,
	Version: "v1",
}

var (
	_ core.CredentialIssuer = (*Provider)(nil)
	_ core.RoleValidator    = (*Provider)(nil)
)

// OAuth error codes of the token endpoint that reject the federation itself.
var deniedCodes = map[string]struct{}{
	"invalid_client":      {},
	"invalid_grant":       {},
	"unauthorized_client": {},
	"access_denied":       {},
	"invalid_scope":       {},
	"invalid_request":     {},
}

// Provider uses the caller's identity token as client assertion of an app
// registration (workload identity federation) and returns the access token.
// The target role is the client id of the app registration or managed identity.
type Provider struct {
	name          string
	tenantID      string
	authorityHost string
	scopes        []string
	httpClient    *http.Client
}

type ProviderConfig struct {
	TenantID string `mapstructure:"tenant_id"`

	// Optional: sovereign clouds use a different authority.
	AuthorityHost string `mapstructure:"authority_host"`

	Scopes []string `mapstructure:"scopes"`
}

func New(name string, cfg ProviderConfig, httpClient *http.Client) (*Provider, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("%s provider '%s' missing 'tenant_id'", Type, name)
	}
	if cfg.AuthorityHost == "" {
		cfg.AuthorityHost = DefaultAuthorityHost
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{DefaultScope}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provider{
		name:          name,
		tenantID:      cfg.TenantID,
		authorityHost: strings.TrimRight(cfg.AuthorityHost, "/"),
		scopes:        cfg.Scopes,
		httpClient:    httpClient,
	}, nil
}

func NewFromConfig(cfg config.ProviderConfig) (*Provider, error) {
	var conf ProviderConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &conf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder for %s provider '%s': %w", Type, cfg.Name, err)
	}
	if err := decoder.Decode(cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config for %s provider '%s': %w", Type, cfg.Name, err)
	}

	return New(cfg.Name, conf, nil)
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Info() core.ProviderInfo {
	return info
}

// ValidateRole checks that role is a client id.
func (p *Provider) ValidateRole(role string) error {
	if _, err := uuid.Parse(role); err != nil {
		return fmt.Errorf("azure target role must be a client id: %w", err)
	}
	return nil
}

func (p *Provider) tokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.authorityHost, url.PathEscape(p.tenantID))
}

// IssueCredential redeems the identity token for an access token. The token
// lifetime is decided by the tenant, the credential carries the actual expiry.
func (p *Provider) IssueCredential(ctx context.Context, req core.IssueRequest) (*core.Credential, error) {
	if err := p.ValidateRole(req.TargetRole); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderDenied, err)
	}

	cc := clientcredentials.Config{
		ClientID:  req.TargetRole,
		TokenURL:  p.tokenURL(),
		Scopes:    p.scopes,
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"client_assertion_type": {clientAssertionType},
			"client_assertion":      {req.SubjectToken},
		},
	}

	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
	if err != nil {
		return nil, classify(err)
	}

	if !tok.Expiry.IsZero() && req.Lifetime > 0 {
		log.Ctx(ctx).Debug().
			Time("expires_at", tok.Expiry).
			Dur("requested_lifetime", req.Lifetime).
			Msg("azure token lifetime is set by the tenant")
	}

	return &core.Credential{
		Provider:   p.name,
		TargetRole: req.TargetRole,
		Secret:     tok.AccessToken,
		ExpiresAt:  tok.Expiry,
		Metadata: map[string]string{
			"token_type": tok.Type(),
			"tenant_id":  p.tenantID,
		},
	}, nil
}

func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if _, denied := deniedCodes[re.ErrorCode]; denied {
			return fmt.Errorf("%w: %s: %s", core.ErrProviderDenied, re.ErrorCode, re.ErrorDescription)
		}
		if re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return fmt.Errorf("%w: token endpoint answered %s", core.ErrProviderDenied, re.Response.Status)
			}
		}
	}
	return fmt.Errorf("requesting azure token: %w", err)
}
