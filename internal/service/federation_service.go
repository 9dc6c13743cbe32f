// Package service is the layer between the HTTP API (or the CLI in local
// mode) and the broker, the audit log and the policy store.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MikeDominic92/keyless-kingdom/internal/audit"
	"github.com/MikeDominic92/keyless-kingdom/internal/broker"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/policy"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers"
	"github.com/MikeDominic92/keyless-kingdom/internal/validation"
)

const DefaultDecisionLimit = 50

type FederationService struct {
	broker    *broker.Broker
	matcher   broker.Matcher
	store     core.PolicyStore
	audit     core.AuditLog
	providers map[string]core.CredentialIssuer
}

func NewFederationService(
	b *broker.Broker,
	matcher broker.Matcher,
	store core.PolicyStore,
	auditLog core.AuditLog,
	providers map[string]core.CredentialIssuer,
) *FederationService {
	return &FederationService{
		broker:    b,
		matcher:   matcher,
		store:     store,
		audit:     auditLog,
		providers: providers,
	}
}

// Authenticate runs the broker. A DENY is a regular response, errors are only
// returned when no decision was recorded.
func (s *FederationService) Authenticate(ctx context.Context, req AuthenticateRequest) (*AuthenticateResponse, error) {
	if req.Token == "" {
		return nil, httpError(http.StatusUnauthorized, fmt.Errorf("missing identity token"))
	}
	if req.Provider == "" {
		return nil, httpError(http.StatusBadRequest, fmt.Errorf("missing provider"))
	}

	res, err := s.broker.Authenticate(ctx, broker.Request{
		Token:         req.Token,
		Provider:      req.Provider,
		SourceIP:      req.SourceIP,
		CorrelationID: req.CorrelationID,
	})
	switch {
	case err == nil:
	case errors.Is(err, core.ErrAuditWriteFailed):
		return nil, httpError(http.StatusInternalServerError, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, httpError(http.StatusServiceUnavailable, err)
	default:
		return nil, httpError(http.StatusInternalServerError, err)
	}

	return &AuthenticateResponse{
		Decision:   res.Decision,
		Credential: res.Credential,
	}, nil
}

// DecisionStatus is the HTTP status for a recorded decision.
func DecisionStatus(d core.FederationDecision) int {
	switch {
	case d.Allowed():
		return http.StatusCreated
	case d.Reason == core.ReasonProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusForbidden
	}
}

func (s *FederationService) QueryDecisions(ctx context.Context, filter core.AuditFilter) ([]core.FederationDecision, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultDecisionLimit
	}
	decisions, err := audit.Collect(ctx, s.audit, filter)
	if err != nil {
		return nil, httpError(http.StatusInternalServerError, fmt.Errorf("querying audit log: %w", err))
	}
	return decisions, nil
}

// GetDecision returns the decision with the given ID.
func (s *FederationService) GetDecision(ctx context.Context, id string) (*core.FederationDecision, error) {
	decisions, err := s.QueryDecisions(ctx, core.AuditFilter{ID: id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, httpError(http.StatusNotFound, fmt.Errorf("decision '%s' not found", id))
	}
	return &decisions[0], nil
}

// ListPolicies returns the policies of a provider, or all policies if provider is empty.
func (s *FederationService) ListPolicies(ctx context.Context, provider string) ([]core.TrustPolicy, error) {
	var (
		policies []core.TrustPolicy
		err      error
	)
	if provider == "" {
		policies, err = s.store.All(ctx)
	} else {
		policies, err = s.store.List(ctx, provider)
	}
	if err != nil {
		return nil, httpError(http.StatusInternalServerError, fmt.Errorf("listing policies: %w", err))
	}
	return policies, nil
}

func (s *FederationService) GetPolicy(ctx context.Context, provider, role string) (*core.TrustPolicy, error) {
	p, err := s.store.Get(ctx, provider, role)
	if err != nil {
		return nil, httpError(http.StatusInternalServerError, fmt.Errorf("reading policy: %w", err))
	}
	if p == nil {
		return nil, httpError(http.StatusNotFound, fmt.Errorf("no policy for role '%s' of provider '%s'", role, provider))
	}
	return p, nil
}

// PutPolicy validates and stores the policy. Overlaps with existing policies
// are reported as warnings, they do not prevent the write.
func (s *FederationService) PutPolicy(ctx context.Context, p core.TrustPolicy) (*PutPolicyResponse, error) {
	if err := validation.ValidatePolicy(p); err != nil {
		return nil, httpError(http.StatusBadRequest, err)
	}
	if err := providers.ValidateRoles(s.providers, []core.TrustPolicy{p}); err != nil {
		return nil, httpError(http.StatusBadRequest, err)
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, httpError(http.StatusInternalServerError, fmt.Errorf("storing policy: %w", err))
	}

	resp := &PutPolicyResponse{Policy: p}
	siblings, err := s.store.List(ctx, p.Provider)
	if err != nil {
		return resp, nil
	}
	for _, c := range policy.Lint(siblings) {
		if c.A.ID() == p.ID() || c.B.ID() == p.ID() {
			resp.Warnings = append(resp.Warnings, c.String())
		}
	}
	return resp, nil
}

// Providers lists the configured provider adapters.
func (s *FederationService) Providers() map[string]core.ProviderInfo {
	return s.broker.Providers()
}
