package core

import (
	"context"
	"time"
)

// Credential is a short-lived secret issued by a provider adapter.
// It is handed to the caller and never persisted by the broker.
type Credential struct {
	Provider   string `json:"provider"`
	TargetRole string `json:"target_role"`

	// AccessKeyID is set by providers that use key pairs (e.g. AWS).
	AccessKeyID string `json:"access_key_id,omitempty"`

	// Secret is the secret access key or bearer access token.
	Secret string `json:"secret"`

	// SessionToken is set by providers that return a separate session token.
	SessionToken string `json:"session_token,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// IssueRequest is what the broker passes to a provider adapter.
type IssueRequest struct {
	TargetRole string
	Lifetime   time.Duration

	// SubjectToken is the verified identity token, for providers that federate
	// against it directly (web identity, client assertions, STS exchange).
	SubjectToken string

	// SessionName identifies the session at the provider, where supported.
	SessionName string
}

// ProviderInfo describes an adapter for logs and the about endpoint.
type ProviderInfo struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

type Provider interface {
	// Name returns the identifier of this provider (as used in config and policies).
	Name() string
	Info() ProviderInfo
}

// CredentialIssuer issues credentials for a target role.
// Errors wrapping ErrProviderDenied are permanent, everything else is treated as transient.
type CredentialIssuer interface {
	Provider

	IssueCredential(ctx context.Context, req IssueRequest) (*Credential, error)
}

// RoleValidator is implemented by providers that can check the format of a target role.
type RoleValidator interface {
	Provider

	ValidateRole(role string) error
}
