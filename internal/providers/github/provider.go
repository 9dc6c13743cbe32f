package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v80/github"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
)

const Type = "github-app"

var info = core.ProviderInfo{
	Type:    Type,
	Version: "v1",
}

var (
	_ core.CredentialIssuer = (*Provider)(nil)
	_ core.RoleValidator    = (*Provider)(nil)
)

// Provider issues GitHub App installation tokens.
// It supports GitHub Cloud and GitHub Enterprise Server.
//
// The target role is either "owner/repo", which limits the token to that
// repository, or "owner", which covers every repository of the installation
// and requires allow_all_repositories.
type Provider struct {
	name       string
	appID      int64
	privateKey *rsa.PrivateKey
	httpClient *http.Client

	serverBaseURL string
	permissions   map[string]string

	allowAllRepositories bool
}

type ProviderConfig struct {
	AppID          int64  `mapstructure:"app_id"`
	PrivateKey     string `mapstructure:"private_key"`
	PrivateKeyFile string `mapstructure:"private_key_path"`

	// Optional: GitHub Enterprise server URL. Defaults to https://api.github.com
	ServerBaseURL string `mapstructure:"server"`

	// Permissions granted to every token, e.g. {contents: read}.
	Permissions map[string]string `mapstructure:"permissions"`

	// AllowAllPermissions has to be set to issue tokens with all permissions of
	// the installation when Permissions is empty.
	AllowAllPermissions bool `mapstructure:"allow_all_permissions"`

	// AllowAllRepositories has to be set to accept owner-only target roles.
	AllowAllRepositories bool `mapstructure:"allow_all_repositories"`
}

func New(name string, cfg ProviderConfig, httpClient *http.Client) (*Provider, error) {
	if cfg.AppID == 0 {
		return nil, fmt.Errorf("%s provider '%s' missing 'app_id'", Type, name)
	}

	var keyBytes []byte
	switch {
	case cfg.PrivateKey != "":
		keyBytes = []byte(cfg.PrivateKey)
	case cfg.PrivateKeyFile != "":
		contents, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file for %s provider '%s': %w", Type, name, err)
		}
		keyBytes = contents
	default:
		return nil, fmt.Errorf("%s provider '%s' missing 'private_key' or 'private_key_path'", Type, name)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key of %s provider '%s': %w", Type, name, err)
	}

	if len(cfg.Permissions) == 0 && !cfg.AllowAllPermissions {
		// a token with every permission of the installation is a fire hazard
		return nil, fmt.Errorf("%s provider '%s' must set 'permissions' or 'allow_all_permissions'", Type, name)
	}
	if err := ValidatePermissions(cfg.Permissions); err != nil {
		return nil, fmt.Errorf("%s provider '%s': %w", Type, name, err)
	}
	if _, err := installationPermissions(cfg.Permissions); err != nil {
		return nil, fmt.Errorf("%s provider '%s': %w", Type, name, err)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provider{
		name:                 name,
		appID:                cfg.AppID,
		privateKey:           key,
		httpClient:           httpClient,
		serverBaseURL:        cfg.ServerBaseURL,
		permissions:          cfg.Permissions,
		allowAllRepositories: cfg.AllowAllRepositories,
	}, nil
}

func NewFromConfig(cfg config.ProviderConfig) (*Provider, error) {
	var conf ProviderConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         nil,
		WeaklyTypedInput: true,
		Result:           &conf,
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

// ValidateRole checks that role is "owner/repo", or "owner" if allowed.
func (p *Provider) ValidateRole(role string) error {
	_, _, err := p.parseRole(role)
	return err
}

func (p *Provider) parseRole(role string) (owner, repo string, err error) {
	owner, repo, hasRepo := strings.Cut(role, "/")
	if owner == "" || (hasRepo && (repo == "" || strings.Contains(repo, "/"))) {
		return "", "", fmt.Errorf("github target role must be 'owner/repo' or 'owner', got '%s'", role)
	}
	if !hasRepo && !p.allowAllRepositories {
		return "", "", fmt.Errorf("github target role '%s' covers all repositories, set 'allow_all_repositories' to allow it", role)
	}
	return owner, repo, nil
}

// IssueCredential creates an installation token for the target role. GitHub
// fixes the token lifetime to one hour, the credential carries the actual expiry.
func (p *Provider) IssueCredential(ctx context.Context, req core.IssueRequest) (*core.Credential, error) {
	logger := log.Ctx(ctx)

	owner, repo, err := p.parseRole(req.TargetRole)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderDenied, err)
	}

	appClient, err := NewClient(p.httpClient, p.appID, p.privateKey, p.serverBaseURL)
	if err != nil {
		return nil, err
	}
	appClient.UserAgent = userAgent(logging.CorrelationID(ctx), req.SessionName)

	installation, err := p.findInstallation(ctx, appClient, owner, repo)
	if err != nil {
		return nil, err
	}
	installationID := installation.GetID()

	opts := &github.InstallationTokenOptions{}
	if repo != "" {
		opts.Repositories = []string{repo}
	}
	if len(p.permissions) > 0 {
		// validated in New
		opts.Permissions, _ = installationPermissions(p.permissions)
	}

	logger.Debug().
		Int64("installation_id", installationID).
		Int("repos_count", len(opts.Repositories)).
		Msg("creating github installation token")

	token, _, err := appClient.Apps.CreateInstallationToken(ctx, installationID, opts)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("creating installation token for installation %d", installationID))
	}

	metadata := map[string]string{
		"installation_id": fmt.Sprint(installationID),
	}
	if repo != "" {
		metadata["repository"] = owner + "/" + repo
	}
	if len(p.permissions) > 0 {
		metadata["permissions"] = fmt.Sprint(p.permissions)
	}

	return &core.Credential{
		Provider:   p.name,
		TargetRole: req.TargetRole,
		Secret:     token.GetToken(),
		ExpiresAt:  token.GetExpiresAt().Time,
		Metadata:   metadata,
	}, nil
}

func (p *Provider) findInstallation(ctx context.Context, client *github.Client, owner, repo string) (*github.Installation, error) {
	if repo != "" {
		inst, _, err := client.Apps.FindRepositoryInstallation(ctx, owner, repo)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("finding app installation for %s/%s", owner, repo))
		}
		return inst, nil
	}

	// the most common case is that the app is installed in an org
	inst, _, err := client.Apps.FindOrganizationInstallation(ctx, owner)
	if err == nil {
		return inst, nil
	}
	inst, _, userErr := client.Apps.FindUserInstallation(ctx, owner)
	if userErr != nil {
		return nil, classify(errors.Join(err, userErr), fmt.Sprintf("finding app installation for owner '%s'", owner))
	}
	return inst, nil
}

func userAgent(correlationID, session string) string {
	ua := "keyless-kingdom"
	if correlationID != "" {
		ua += " correlation/" + correlationID
	}
	if session != "" {
		ua += " session/" + session
	}
	return ua
}

// classify marks client errors of the GitHub API as denials. Rate limits and
// server errors stay transient.
func classify(err error, action string) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w", action, err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %s: %s", core.ErrProviderDenied, action, respErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}
