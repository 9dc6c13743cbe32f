// Package broker turns identity tokens into short-lived cloud credentials.
// Every request ends in exactly one recorded FederationDecision.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/audit"
	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/metrics"
)

// Matcher selects the trust policy for verified claims.
type Matcher interface {
	Match(ctx context.Context, provider string, claims core.Claims) (*core.TrustPolicy, error)
	Explain(ctx context.Context, provider string, claims core.Claims) (*core.MatchTrace, error)
}

type Request struct {
	// Token is the raw identity token.
	Token string

	// Provider is the name of the provider adapter to issue the credential.
	Provider string

	SourceIP      string
	CorrelationID string
}

// Result is what the caller gets back. Credential is only set on ALLOW and is
// never recorded, the decision carries a reference to it.
type Result struct {
	Decision   core.FederationDecision
	Credential *core.Credential
}

// Deps are the collaborators of the broker.
type Deps struct {
	Verifier  core.Verifier
	Matcher   Matcher
	Providers map[string]core.CredentialIssuer
	Audit     core.AuditLog
	Metrics   *metrics.Metrics
}

type Broker struct {
	verifier  core.Verifier
	matcher   Matcher
	providers map[string]core.CredentialIssuer
	audit     core.AuditLog
	metrics   *metrics.Metrics

	retry           map[string]config.RetryConfig
	defaultLifetime time.Duration
	issueTimeout    time.Duration
	auditTimeout    time.Duration

	now func() time.Time
}

type Option func(*Broker)

func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

func New(cfg *config.Config, deps Deps, opts ...Option) *Broker {
	retry := make(map[string]config.RetryConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		retry[p.Name] = p.Retry
	}
	b := &Broker{
		verifier:        deps.Verifier,
		matcher:         deps.Matcher,
		providers:       deps.Providers,
		audit:           deps.Audit,
		metrics:         deps.Metrics,
		retry:           retry,
		defaultLifetime: cfg.Broker.DefaultLifetime,
		issueTimeout:    cfg.Broker.IssueTimeout,
		auditTimeout:    cfg.Broker.AuditTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Lifetime returns the credential lifetime for a policy: its maximum, capped
// by the broker default. A policy without maximum gets the default.
func (b *Broker) Lifetime(p core.TrustPolicy) time.Duration {
	if p.MaxLifetime <= 0 {
		return b.defaultLifetime
	}
	return min(p.MaxLifetime, b.defaultLifetime)
}

// request is the state of one Authenticate call.
type request struct {
	*machine
	decision core.FederationDecision
	start    time.Time
}

// Authenticate verifies the token, selects a policy and issues a credential.
//
// Denials are not errors: they come back as a DENY decision. An error is only
// returned when no decision could be recorded, either because the caller went
// away before a credential was requested or because the audit log failed.
func (b *Broker) Authenticate(ctx context.Context, req Request) (*Result, error) {
	r := &request{
		machine: newMachine(),
		start:   b.now(),
		decision: core.FederationDecision{
			ID:            uuid.NewString(),
			CorrelationID: req.CorrelationID,
			Provider:      req.Provider,
			SourceIP:      req.SourceIP,
		},
	}

	logger := log.Ctx(ctx).With().
		Str("decision_id", r.decision.ID).
		Str("provider", req.Provider).
		Logger()
	ctx = logger.WithContext(ctx)

	adapter, ok := b.providers[req.Provider]
	if !ok {
		r.to(core.StateNoMatch)
		return b.deny(ctx, r, fmt.Errorf("%w: '%s'", core.ErrUnknownProvider, req.Provider))
	}

	r.to(core.StateVerifying)
	claims, err := b.verifier.Verify(ctx, req.Token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request abandoned during verification: %w", ctx.Err())
		}
		r.to(core.StateVerifyFailed)
		if core.ReasonOf(err) == core.ReasonNone {
			err = fmt.Errorf("%w: %w", core.ErrMalformedToken, err)
		}
		return b.deny(ctx, r, err)
	}
	r.to(core.StateVerified)
	r.decision.Principal = claims.Principal()
	logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("sub", claims.Subject())
	})
	ctx = logger.WithContext(ctx)

	r.to(core.StateMatching)
	policy, err := b.matcher.Match(ctx, req.Provider, claims)
	switch {
	case err != nil && errors.Is(err, core.ErrAmbiguousPolicy):
		logger.Error().Err(err).Msg("ambiguous trust policies, fix the policy set")
		r.to(core.StateNoMatch)
		return b.deny(ctx, r, err)
	case err != nil:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request abandoned during matching: %w", ctx.Err())
		}
		// the store failed, nothing was decided
		return nil, fmt.Errorf("matching trust policies: %w", err)
	case policy == nil:
		r.to(core.StateNoMatch)
		return b.deny(ctx, r, core.ErrNoMatchingPolicy)
	}
	r.to(core.StateMatched)
	r.decision.TargetRole = policy.TargetRole

	// last point where the caller may walk away without a trace
	if ctx.Err() != nil {
		return nil, fmt.Errorf("request abandoned before issuing: %w", ctx.Err())
	}

	// from here on the outcome is awaited and recorded even if the caller leaves
	r.to(core.StateIssuing)
	issueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.issueTimeout)
	defer cancel()

	cred, attempts, err := b.issue(issueCtx, adapter, req, *policy, r.decision.ID)
	r.decision.Attempts = attempts
	if err != nil {
		r.to(core.StateIssueFailed)
		return b.deny(ctx, r, fmt.Errorf("%w: %w", core.ErrProviderError, err))
	}
	r.to(core.StateIssued)

	r.decision.Kind = core.Allow
	r.decision.PolicyID = policy.ID()
	r.decision.Credential = audit.RefFor(cred)
	r.to(core.StateDecided)

	if err := b.record(ctx, r); err != nil {
		logger.Error().Err(err).
			Str("fingerprint", r.decision.Credential.Fingerprint).
			Msg("credential issued but decision not recorded, withholding it")
		return nil, err
	}

	logger.Info().
		Str("policy", r.decision.PolicyID).
		Int("attempts", attempts).
		Time("expires_at", cred.ExpiresAt).
		Msg("federation allowed")
	return &Result{Decision: r.decision, Credential: cred}, nil
}

func (b *Broker) deny(ctx context.Context, r *request, cause error) (*Result, error) {
	r.decision.Kind = core.Deny
	r.decision.Reason = core.ReasonOf(cause)
	r.decision.Detail = cause.Error()

	if err := b.record(ctx, r); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Warn().
		Str("reason", string(r.decision.Reason)).
		Str("state", string(r.decision.State)).
		Str("detail", r.decision.Detail).
		Msg("federation denied")
	return &Result{Decision: r.decision}, nil
}

// record appends the decision before anything is returned to the caller.
// The append is detached from the caller and retried until audit_timeout.
func (b *Broker) record(ctx context.Context, r *request) error {
	now := b.now()
	r.decision.State = r.state
	r.decision.Time = now
	r.decision.Duration = now.Sub(r.start)

	if err := r.decision.Validate(); err != nil {
		return fmt.Errorf("%w: refusing invalid decision: %w", core.ErrAuditWriteFailed, err)
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.auditTimeout)
	defer cancel()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 25 * time.Millisecond
	exp.MaxInterval = time.Second

	_, err := backoff.Retry(actx, func() (struct{}, error) {
		return struct{}{}, b.audit.Append(actx, r.decision)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxElapsedTime(b.auditTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Warn().Err(err).Dur("retry_in", next).Msg("audit append failed, retrying")
		}),
	)
	if err != nil {
		b.metrics.ObserveAuditFailure()
		return fmt.Errorf("%w: %w", core.ErrAuditWriteFailed, err)
	}

	b.metrics.ObserveDecision(r.decision, r.decision.Duration)
	return nil
}

// issue calls the adapter with bounded retries. Only transient errors are
// retried, denials by the provider end the loop at once.
func (b *Broker) issue(
	ctx context.Context,
	adapter core.CredentialIssuer,
	req Request,
	policy core.TrustPolicy,
	decisionID string,
) (*core.Credential, int, error) {
	rc, ok := b.retry[req.Provider]
	if !ok || rc.MaxAttempts < 1 {
		rc = config.RetryConfig{MaxAttempts: 1, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = rc.InitialInterval
	exp.MaxInterval = rc.MaxInterval

	issueReq := core.IssueRequest{
		TargetRole:   policy.TargetRole,
		Lifetime:     b.Lifetime(policy),
		SubjectToken: req.Token,
		SessionName:  decisionID,
	}

	logger := log.Ctx(ctx)
	attempts := 0
	cred, err := backoff.Retry(ctx, func() (*core.Credential, error) {
		attempts++

		actx, cancel := ctx, context.CancelFunc(func() {})
		if rc.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, rc.AttemptTimeout)
		}
		defer cancel()

		cred, err := adapter.IssueCredential(actx, issueReq)
		switch {
		case err != nil && errors.Is(err, core.ErrProviderDenied):
			b.metrics.ObserveAttempt(req.Provider, "denied")
			return nil, backoff.Permanent(err)
		case err != nil:
			b.metrics.ObserveAttempt(req.Provider, "transient")
			return nil, err
		case cred == nil:
			b.metrics.ObserveAttempt(req.Provider, "transient")
			return nil, fmt.Errorf("provider returned no credential")
		}
		b.metrics.ObserveAttempt(req.Provider, "success")
		return cred, nil
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(rc.MaxAttempts)),
		backoff.WithMaxElapsedTime(b.issueTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("provider call failed, retrying")
		}),
	)
	if err != nil {
		return nil, attempts, err
	}
	return cred, attempts, nil
}

// Explain verifies the token and reports how every policy of the provider
// fared against its claims. Nothing is issued or recorded.
func (b *Broker) Explain(ctx context.Context, token, provider string) (*core.MatchTrace, error) {
	claims, err := b.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	trace, err := b.matcher.Explain(ctx, provider, claims)
	if err != nil {
		return nil, err
	}
	if _, ok := b.providers[provider]; !ok && trace.Reason == core.ReasonNone {
		trace.Reason = core.ReasonUnknownProvider
	}
	return trace, nil
}

// Providers returns the names and infos of the configured adapters.
func (b *Broker) Providers() map[string]core.ProviderInfo {
	out := make(map[string]core.ProviderInfo, len(b.providers))
	for name, p := range b.providers {
		out[name] = p.Info()
	}
	return out
}
