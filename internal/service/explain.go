package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// ExplainTrace reports how the policies of a provider fare against a token,
// or against the principal of a recorded decision when replaying.
func (s *FederationService) ExplainTrace(ctx context.Context, req ExplainRequest) (*core.MatchTrace, error) {
	if req.ReplayID != "" {
		logger := log.Ctx(ctx).With().Str("replay_id", req.ReplayID).Logger()

		d, err := s.GetDecision(ctx, req.ReplayID)
		if err != nil {
			return nil, err
		}
		if d.Principal.Subject == "" {
			return nil, httpError(http.StatusBadRequest,
				fmt.Errorf("decision '%s' has no verified principal to replay", req.ReplayID))
		}
		provider := req.Provider
		if provider == "" {
			provider = d.Provider
		}

		// only issuer and subject are recorded, constraints on other claims will not match
		claims := core.Claims{
			"iss": d.Principal.Issuer,
			"sub": d.Principal.Subject,
		}
		logger.Debug().Str("sub", d.Principal.Subject).Msg("replaying recorded decision")

		trace, err := s.matcher.Explain(ctx, provider, claims)
		if err != nil {
			return nil, httpError(http.StatusInternalServerError, fmt.Errorf("explaining: %w", err))
		}
		trace.CorrelationID = d.CorrelationID
		return trace, nil
	}

	if req.Token == "" {
		return nil, httpError(http.StatusBadRequest,
			fmt.Errorf("token is required when not replaying a decision"))
	}
	if req.Provider == "" {
		return nil, httpError(http.StatusBadRequest, fmt.Errorf("missing provider"))
	}

	trace, err := s.broker.Explain(ctx, req.Token, req.Provider)
	if err != nil {
		if core.ReasonOf(err).IsVerificationFailure() {
			return nil, httpError(http.StatusUnauthorized, fmt.Errorf("token verification failed: %w", err))
		}
		return nil, httpError(http.StatusInternalServerError, fmt.Errorf("explaining: %w", err))
	}
	return trace, nil
}
