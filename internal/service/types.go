package service

import (
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

type AuthenticateRequest struct {
	// Token is the raw identity token of the caller.
	Token string

	// Provider selects the provider adapter.
	Provider string

	SourceIP      string
	CorrelationID string
}

// AuthenticateResponse is returned for every recorded decision.
// Credential is only set when the decision is an ALLOW.
type AuthenticateResponse struct {
	Decision   core.FederationDecision `json:"decision"`
	Credential *core.Credential        `json:"credential,omitempty"`
}

type ExplainRequest struct {
	// Token is verified and its claims are matched.
	Token string `json:"token,omitempty"`

	// ReplayID matches the principal recorded on a past decision instead of a token.
	ReplayID string `json:"replay_id,omitempty"`

	// Provider is required for live mode. Replays default to the provider of the decision.
	Provider string `json:"provider,omitempty"`
}

type PutPolicyResponse struct {
	Policy core.TrustPolicy `json:"policy"`

	// Warnings lists overlaps with other policies that will make requests ambiguous.
	Warnings []string `json:"warnings,omitempty"`
}
