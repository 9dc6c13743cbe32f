package core

import (
	"fmt"
	"time"
)

type DecisionKind string

const (
	Allow DecisionKind = "ALLOW"
	Deny  DecisionKind = "DENY"
)

// State is a step of the per-request broker state machine.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateVerifying    State = "VERIFYING"
	StateVerified     State = "VERIFIED"
	StateVerifyFailed State = "VERIFY_FAILED"
	StateMatching     State = "MATCHING"
	StateMatched      State = "MATCHED"
	StateNoMatch      State = "NO_MATCH"
	StateIssuing      State = "ISSUING"
	StateIssued       State = "ISSUED"
	StateIssueFailed  State = "ISSUE_FAILED"
	StateDecided      State = "DECIDED"
)

// IsTerminal reports whether a request may end in this state.
func (s State) IsTerminal() bool {
	switch s {
	case StateDecided, StateVerifyFailed, StateNoMatch, StateIssueFailed:
		return true
	default:
		return false
	}
}

// CredentialRef is what the audit log keeps of an issued credential.
// The secret itself is never recorded.
type CredentialRef struct {
	TargetRole  string    `json:"target_role"`
	ExpiresAt   time.Time `json:"expires_at"`
	Fingerprint string    `json:"fingerprint"`
}

// FederationDecision is the outcome of a single broker invocation.
// It is appended to the audit log and never modified afterwards.
type FederationDecision struct {
	// ID is unique per decision.
	ID string `json:"id"`

	// CorrelationID is the request ID (X-Correlation-ID), if any.
	CorrelationID string `json:"correlation_id,omitempty"`

	Time time.Time    `json:"time"`
	Kind DecisionKind `json:"kind"`

	// State is the terminal state the request ended in.
	State State `json:"state"`

	Reason Reason `json:"reason,omitempty"`
	// Detail is the error message behind Reason, for operators.
	Detail string `json:"detail,omitempty"`

	Provider   string    `json:"provider"`
	TargetRole string    `json:"target_role,omitempty"`
	PolicyID   string    `json:"policy_id,omitempty"`
	Principal  Principal `json:"principal"`

	Credential *CredentialRef `json:"credential,omitempty"`

	// Attempts is the number of provider adapter calls made.
	Attempts int `json:"attempts,omitempty"`

	SourceIP string        `json:"source_ip,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Validate checks that an ALLOW carries exactly one policy and credential and a DENY neither.
func (d FederationDecision) Validate() error {
	switch d.Kind {
	case Allow:
		if d.PolicyID == "" {
			return fmt.Errorf("allow decision without policy id")
		}
		if d.Credential == nil {
			return fmt.Errorf("allow decision without credential")
		}
		if d.Reason != ReasonNone {
			return fmt.Errorf("allow decision with reason %q", d.Reason)
		}
	case Deny:
		if d.PolicyID != "" {
			return fmt.Errorf("deny decision with policy id %q", d.PolicyID)
		}
		if d.Credential != nil {
			return fmt.Errorf("deny decision with credential")
		}
		if d.Reason == ReasonNone {
			return fmt.Errorf("deny decision without reason")
		}
	default:
		return fmt.Errorf("unknown decision kind %q", d.Kind)
	}
	if !d.State.IsTerminal() {
		return fmt.Errorf("decision in non-terminal state %q", d.State)
	}
	return nil
}

func (d FederationDecision) Allowed() bool {
	return d.Kind == Allow
}
