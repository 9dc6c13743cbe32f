package stub

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const Type = "stub"

var info = core.ProviderInfo{
	Type:    Type,
	Version: "v1",
}

var _ core.CredentialIssuer = (*Provider)(nil)

// Provider issues fake credentials. It is meant for local setups and tests and
// can simulate latency and failures.
type Provider struct {
	name string
	cfg  ProviderConfig

	calls atomic.Int64
}

type ProviderConfig struct {
	// Latency delays every call.
	Latency time.Duration `mapstructure:"latency"`

	// FailFirst makes the first n calls fail with a transient error.
	FailFirst int `mapstructure:"fail_first"`

	// DenyRoles are rejected as if the provider refused the federation.
	DenyRoles []string `mapstructure:"deny_roles"`
}

func New(name string, cfg ProviderConfig) *Provider {
	return &Provider{name: name, cfg: cfg}
}

// NewFromConfig creates a new Provider with the given name.
func NewFromConfig(cfg config.ProviderConfig) (*Provider, error) {
	var conf ProviderConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &conf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder for %s provider '%s': %w", Type, cfg.Name, err)
	}
	if err := decoder.Decode(cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config for %s provider '%s': %w", Type, cfg.Name, err)
	}
	return New(cfg.Name, conf), nil
}

func (s *Provider) Name() string {
	return s.name
}

func (s *Provider) Info() core.ProviderInfo {
	return info
}

// Calls returns how often IssueCredential was called.
func (s *Provider) Calls() int {
	return int(s.calls.Load())
}

func (s *Provider) IssueCredential(ctx context.Context, req core.IssueRequest) (*core.Credential, error) {
	n := s.calls.Add(1)

	logger := log.Ctx(ctx)
	logger.Info().
		Str("provider", s.name).
		Str("role", req.TargetRole).
		Int64("call", n).
		Msg("stub provider called")

	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-ctx.Done():
			return nil, fmt.Errorf("stub provider: %w", ctx.Err())
		}
	}
	if n <= int64(s.cfg.FailFirst) {
		return nil, fmt.Errorf("stub provider: simulated failure %d of %d", n, s.cfg.FailFirst)
	}
	if slices.Contains(s.cfg.DenyRoles, req.TargetRole) {
		return nil, fmt.Errorf("%w: stub provider denies '%s'", core.ErrProviderDenied, req.TargetRole)
	}

	return &core.Credential{
		Provider:     s.name,
		TargetRole:   req.TargetRole,
		AccessKeyID:  fmt.Sprintf("KEYLESSSTUB%05d", n%100000),
		Secret:       "keyless_stub_" + uuid.NewString(),
		SessionToken: uuid.NewString(),
		ExpiresAt:    time.Now().Add(req.Lifetime),
		Metadata: map[string]string{
			"env": "stub",
		},
	}, nil
}
