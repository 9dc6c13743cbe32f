package gcp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google/externalaccount"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const (
	Type = "gcp"

	DefaultSTSURL            = "https://sts.googleapis.com/v1/token"
	DefaultIAMCredentialsURL = "https://iamcredentials.googleapis.com/v1"
	DefaultScope             = "https://www.googleapis.com/auth/cloud-platform"

	//nolint:gosec // urn, not a credential
	tokenTypeJWT = "urn:ietf:params:oauth:token-type:jwt"
)

var info = core.ProviderInfo{
	Type:    Type,
	Version: "v1",
}

var (
	_ core.CredentialIssuer = (*Provider)(nil)
	_ core.RoleValidator    = (*Provider)(nil)
)

// Provider exchanges the identity token at the Google STS for a federated
// token of a workload identity pool, then impersonates the target service
// account with it (workload identity federation). The target role is the
// service account email.
type Provider struct {
	name              string
	audience          string
	stsURL            string
	iamCredentialsURL string
	scopes            []string
	httpClient        *http.Client
}

type ProviderConfig struct {
	// Audience is the full resource name of the workload identity pool provider:
	// //iam.googleapis.com/projects/<n>/locations/global/workloadIdentityPools/<pool>/providers/<provider>
	Audience string `mapstructure:"audience"`

	STSURL            string   `mapstructure:"sts_url"`
	IAMCredentialsURL string   `mapstructure:"iam_credentials_url"`
	Scopes            []string `mapstructure:"scopes"`
}

func New(name string, cfg ProviderConfig, httpClient *http.Client) (*Provider, error) {
	if cfg.Audience == "" {
		return nil, fmt.Errorf("%s provider '%s' missing 'audience'", Type, name)
	}
	if cfg.STSURL == "" {
		cfg.STSURL = DefaultSTSURL
	}
	if cfg.IAMCredentialsURL == "" {
		cfg.IAMCredentialsURL = DefaultIAMCredentialsURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{DefaultScope}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{
		name:              name,
		audience:          cfg.Audience,
		stsURL:            cfg.STSURL,
		iamCredentialsURL: strings.TrimRight(cfg.IAMCredentialsURL, "/"),
		scopes:            cfg.Scopes,
		httpClient:        httpClient,
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

// ValidateRole checks that role looks like a service account email.
func (p *Provider) ValidateRole(role string) error {
	at := strings.IndexByte(role, '@')
	if at <= 0 || at == len(role)-1 || strings.ContainsAny(role, "/ ") {
		return fmt.Errorf("gcp target role must be a service account email, got '%s'", role)
	}
	return nil
}

func (p *Provider) IssueCredential(ctx context.Context, req core.IssueRequest) (*core.Credential, error) {
	if err := p.ValidateRole(req.TargetRole); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderDenied, err)
	}

	rec := &statusRecorder{base: p.httpClient.Transport}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: rec,
		Timeout:   p.httpClient.Timeout,
	})

	impersonationURL := fmt.Sprintf("%s/projects/-/serviceAccounts/%s:generateAccessToken",
		p.iamCredentialsURL, url.PathEscape(req.TargetRole))

	conf := externalaccount.Config{
		Audience:                       p.audience,
		SubjectTokenType:               tokenTypeJWT,
		TokenURL:                       p.stsURL,
		SubjectTokenSupplier:           subjectToken(req.SubjectToken),
		Scopes:                         p.scopes,
		ServiceAccountImpersonationURL: impersonationURL,
	}
	// zero falls back to one hour
	conf.ServiceAccountImpersonationLifetimeSeconds = int(req.Lifetime / time.Second)

	ts, err := externalaccount.NewTokenSource(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("configuring token exchange: %w", err)
	}

	tok, err := ts.Token()
	if err != nil {
		return nil, classify(rec.status(), fmt.Errorf("impersonating '%s': %w", req.TargetRole, err))
	}

	log.Ctx(ctx).Debug().
		Str("service_account", req.TargetRole).
		Time("expires_at", tok.Expiry).
		Msg("impersonated service account")

	return &core.Credential{
		Provider:   p.name,
		TargetRole: req.TargetRole,
		Secret:     tok.AccessToken,
		ExpiresAt:  tok.Expiry,
		Metadata: map[string]string{
			"token_type": tok.Type(),
		},
	}, nil
}

// subjectToken hands the caller's identity token to the token exchange.
type subjectToken string

func (s subjectToken) SubjectToken(context.Context, externalaccount.SupplierOptions) (string, error) {
	return string(s), nil
}

// statusRecorder remembers the status of the last response from Google. The
// oauth2 library only reports it inside the error text.
type statusRecorder struct {
	base http.RoundTripper

	mu   sync.Mutex
	last int
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	base := r.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err == nil {
		r.mu.Lock()
		r.last = resp.StatusCode
		r.mu.Unlock()
	}
	return resp, err
}

func (r *statusRecorder) status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// classify marks rejections by the STS or the IAM credentials API as denials.
// Server errors and transport failures stay transient.
func classify(status int, err error) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("%w: %w", core.ErrProviderDenied, err)
	default:
		return err
	}
}
