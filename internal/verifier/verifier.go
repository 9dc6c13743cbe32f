// Package verifier checks inbound identity tokens against the signing keys
// published by the configured issuers.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/tasks"
)

var _ core.Verifier = (*Verifier)(nil)

type issuer struct {
	name       string
	url        string
	audience   string
	algorithms []string
	keys       *keyCache
}

type Verifier struct {
	issuers map[string]*issuer // by issuer url
	skew    time.Duration
	now     func() time.Time
}

type Option func(*Verifier)

// WithClock replaces time.Now for claim validation and key expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// New creates a verifier for the issuers in cfg. sources holds one key source
// per issuer name.
func New(cfg *config.Config, sources map[string]core.KeySource, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		issuers: make(map[string]*issuer, len(cfg.Issuers)),
		skew:    cfg.Broker.ClockSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	// the caches read the clock through the verifier so WithClock applies to them too
	now := func() time.Time { return v.now() }

	for _, ic := range cfg.Issuers {
		src, ok := sources[ic.Name]
		if !ok {
			return nil, fmt.Errorf("no key source for issuer '%s'", ic.Name)
		}
		aud := ic.Audience
		if aud == "" {
			aud = cfg.Broker.Audience
		}
		v.issuers[ic.IssuerURL] = &issuer{
			name:       ic.Name,
			url:        ic.IssuerURL,
			audience:   aud,
			algorithms: ic.Algorithms,
			keys:       newKeyCache(ic, src, now),
		}
	}
	return v, nil
}

// Warm fetches the keys of every issuer once. Failures are logged but not
// fatal, the keys are fetched again on first use.
func (v *Verifier) Warm(ctx context.Context) {
	for _, iss := range v.issuers {
		snap, err := iss.keys.Refresh(ctx)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("issuer", iss.name).Msg("could not fetch signing keys")
			continue
		}
		log.Ctx(ctx).Info().Str("issuer", iss.name).Int("keys", len(snap.Keys)).Msg("signing keys loaded")
	}
}

// RegisterTasks registers a periodic key refresh task per issuer.
func (v *Verifier) RegisterTasks(m *tasks.Manager) {
	for _, iss := range v.issuers {
		m.Register("keys.refresh."+iss.name, iss.keys.refreshInterval, func(ctx context.Context, logger logging.InternalLogger) error {
			logger.Info("refreshing signing keys of %s", iss.url)
			snap, err := iss.keys.Refresh(ctx)
			if err != nil {
				return err
			}
			logger.Info("loaded %d keys, next refresh after %s", len(snap.Keys), snap.RefreshAfter.Format(time.RFC3339))
			return nil
		})
	}
}

// KeySets returns the current snapshot of every issuer, keyed by issuer name.
func (v *Verifier) KeySets() map[string]*core.SigningKeySet {
	out := make(map[string]*core.SigningKeySet, len(v.issuers))
	for _, iss := range v.issuers {
		out[iss.name] = iss.keys.Snapshot()
	}
	return out
}

// Verify checks signature and structural claims of rawToken and returns its
// claims unmodified.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (core.Claims, error) {
	tok, err := core.ParseIdentityToken(rawToken)
	if err != nil {
		return nil, err
	}

	iss, ok := v.issuers[tok.Issuer]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", core.ErrUnknownIssuer, tok.Issuer)
	}
	if !slices.Contains(iss.algorithms, tok.Algorithm) {
		return nil, fmt.Errorf("%w: algorithm '%s' is not allowed for %s", core.ErrSignatureInvalid, tok.Algorithm, iss.name)
	}

	key, err := iss.keys.Lookup(ctx, tok.KeyID)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(iss.algorithms), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(tok.Raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedToken, err)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrSignatureInvalid, err)
	}

	if err := v.validateClaims(iss, claims); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Debug().
		Str("issuer", iss.name).
		Str("sub", claims["sub"].(string)).
		Msg("token verified")
	return core.Claims(claims), nil
}

func (v *Verifier) validateClaims(iss *issuer, claims jwt.MapClaims) error {
	now := v.now()

	sub, err := claims.GetSubject()
	if err != nil {
		return fmt.Errorf("%w: 'sub' claim: %w", core.ErrMalformedToken, err)
	}
	if sub == "" {
		return fmt.Errorf("%w: token missing 'sub' claim", core.ErrMalformedToken)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: 'exp' claim: %w", core.ErrMalformedToken, err)
	}
	if exp == nil {
		return fmt.Errorf("%w: token missing 'exp' claim", core.ErrMalformedToken)
	}
	if now.After(exp.Time) {
		return fmt.Errorf("%w: expired at %s", core.ErrTokenExpired, exp.Time.Format(time.RFC3339))
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return fmt.Errorf("%w: 'iat' claim: %w", core.ErrMalformedToken, err)
	}
	if iat != nil && now.Before(iat.Add(-v.skew)) {
		return fmt.Errorf("%w: issued at %s", core.ErrTokenNotYetValid, iat.Time.Format(time.RFC3339))
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return fmt.Errorf("%w: 'nbf' claim: %w", core.ErrMalformedToken, err)
	}
	if nbf != nil && now.Before(nbf.Add(-v.skew)) {
		return fmt.Errorf("%w: not before %s", core.ErrTokenNotYetValid, nbf.Time.Format(time.RFC3339))
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("%w: 'aud' claim: %w", core.ErrMalformedToken, err)
	}
	if len(aud) == 0 {
		return fmt.Errorf("%w: token missing 'aud' claim", core.ErrMalformedToken)
	}
	if !slices.Contains(aud, iss.audience) {
		return fmt.Errorf("%w: expected '%s', got %v", core.ErrAudienceMismatch, iss.audience, []string(aud))
	}

	return nil
}
