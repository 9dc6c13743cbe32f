package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MikeDominic92/keyless-kingdom/internal/audit"
	"github.com/MikeDominic92/keyless-kingdom/internal/broker"
	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/issuers"
	"github.com/MikeDominic92/keyless-kingdom/internal/metrics"
	"github.com/MikeDominic92/keyless-kingdom/internal/policy"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers"
	"github.com/MikeDominic92/keyless-kingdom/internal/verifier"
)

// Runtime is a fully wired broker with its collaborators.
type Runtime struct {
	Config    *config.Config
	Service   *FederationService
	Broker    *broker.Broker
	Verifier  *verifier.Verifier
	Store     core.PolicyStore
	Audit     core.AuditLog
	Metrics   *metrics.Metrics
	Providers map[string]core.CredentialIssuer
}

type buildOptions struct {
	httpClient *http.Client
	providers  map[string]core.CredentialIssuer
	auditLog   core.AuditLog
}

type BuildOption func(*buildOptions)

// WithHTTPClient is used to fetch signing keys.
func WithHTTPClient(c *http.Client) BuildOption {
	return func(o *buildOptions) {
		o.httpClient = c
	}
}

// WithProviders replaces the adapters built from the config.
func WithProviders(p map[string]core.CredentialIssuer) BuildOption {
	return func(o *buildOptions) {
		o.providers = p
	}
}

// WithAuditLog replaces the audit log configured in the config.
func WithAuditLog(l core.AuditLog) BuildOption {
	return func(o *buildOptions) {
		o.auditLog = l
	}
}

// Build wires verifier, policy store, matcher, adapters, audit log and broker
// from the configuration. The caller must Close the runtime.
func Build(ctx context.Context, cfg *config.Config, opts ...BuildOption) (_ *Runtime, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	sources, err := issuers.BuildRegistry(cfg.Issuers, o.httpClient)
	if err != nil {
		return nil, fmt.Errorf("building key sources: %w", err)
	}
	if rt.Verifier, err = verifier.New(cfg, sources); err != nil {
		return nil, fmt.Errorf("creating verifier: %w", err)
	}

	rt.Providers = o.providers
	if rt.Providers == nil {
		if rt.Providers, err = providers.BuildRegistry(ctx, cfg.Providers); err != nil {
			return nil, fmt.Errorf("building provider registry: %w", err)
		}
	}
	if err := providers.ValidateRoles(rt.Providers, cfg.Policies); err != nil {
		return nil, fmt.Errorf("validating policy roles: %w", err)
	}

	if rt.Store, err = policy.OpenStore(ctx, cfg.PolicyStore); err != nil {
		return nil, fmt.Errorf("opening policy store: %w", err)
	}
	if err := policy.Seed(ctx, rt.Store, cfg.Policies); err != nil {
		return nil, err
	}

	branches, err := policy.BuildBranchExtractors(cfg.Issuers)
	if err != nil {
		return nil, fmt.Errorf("building branch extractors: %w", err)
	}
	matcher := policy.NewMatcher(rt.Store, branches)

	rt.Audit = o.auditLog
	if rt.Audit == nil {
		if rt.Audit, err = audit.Open(ctx, cfg.Audit); err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
	}

	rt.Broker = broker.New(cfg, broker.Deps{
		Verifier:  rt.Verifier,
		Matcher:   matcher,
		Providers: rt.Providers,
		Audit:     rt.Audit,
		Metrics:   rt.Metrics,
	})
	rt.Service = NewFederationService(rt.Broker, matcher, rt.Store, rt.Audit, rt.Providers)
	return rt, nil
}

func (rt *Runtime) Close() error {
	var errs []error
	if rt.Audit != nil {
		errs = append(errs, rt.Audit.Close())
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}
