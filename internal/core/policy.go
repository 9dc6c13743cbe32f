package core

import (
	"strings"
	"time"
)

// WildcardSuffix marks a subject pattern as a prefix match.
const WildcardSuffix = "*"

// TrustPolicy binds a caller identity pattern to a target cloud role.
// Policies are unique per (Provider, TargetRole).
type TrustPolicy struct {
	// Name is a human-readable label for logs and the CLI.
	Name string `yaml:"name" json:"name,omitempty"`

	// Provider is the name of the provider adapter (as used in config).
	Provider string `yaml:"provider" json:"provider"`

	// TargetRole is the role or identity the credential is issued for,
	// e.g. an IAM role ARN or a service account email.
	TargetRole string `yaml:"role" json:"role"`

	// Subject is either an exact subject or a prefix ending in '*'.
	Subject string `yaml:"subject" json:"subject"`

	// Audience, if set, must be contained in the token audience.
	Audience string `yaml:"audience" json:"audience,omitempty"`

	// Branch, if set, must equal the branch extracted for the token's issuer.
	Branch string `yaml:"branch" json:"branch,omitempty"`

	// Issuer, if set, restricts the policy to tokens from this issuer URL.
	Issuer string `yaml:"issuer" json:"issuer,omitempty"`

	// Condition is an optional boolean expression over the claims.
	Condition string `yaml:"condition" json:"condition,omitempty"`

	// MaxLifetime caps the lifetime of issued credentials. Zero means the broker default.
	MaxLifetime time.Duration `yaml:"max_lifetime" json:"max_lifetime,omitempty"`
}

// PolicyKey identifies a policy in the store.
type PolicyKey struct {
	Provider   string
	TargetRole string
}

func (p TrustPolicy) Key() PolicyKey {
	return PolicyKey{Provider: p.Provider, TargetRole: p.TargetRole}
}

// ID is the stable identifier recorded on decisions.
func (p TrustPolicy) ID() string {
	return p.Provider + "/" + p.TargetRole
}

// IsWildcard reports whether the subject pattern is a prefix match.
func (p TrustPolicy) IsWildcard() bool {
	return strings.HasSuffix(p.Subject, WildcardSuffix)
}

// LiteralSubject returns the subject pattern without its trailing wildcard.
func (p TrustPolicy) LiteralSubject() string {
	return strings.TrimSuffix(p.Subject, WildcardSuffix)
}

// DisplayName returns Name, falling back to the policy ID.
func (p TrustPolicy) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID()
}
