package validation

import (
	"strings"
	"testing"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

func TestValidatePolicy(t *testing.T) {
	base := core.TrustPolicy{
		Provider:   "aws",
		TargetRole: "arn:aws:iam::111:role/Deploy",
		Subject:    "repo:acme/core:*",
	}

	tests := []struct {
		name    string
		mutate  func(p *core.TrustPolicy)
		wantErr string
	}{
		{name: "valid wildcard", mutate: func(p *core.TrustPolicy) {}},
		{name: "valid exact", mutate: func(p *core.TrustPolicy) { p.Subject = "repo:acme/core:ref:refs/heads/main" }},
		{name: "missing provider", mutate: func(p *core.TrustPolicy) { p.Provider = "" }, wantErr: "missing provider"},
		{name: "missing role", mutate: func(p *core.TrustPolicy) { p.TargetRole = "" }, wantErr: "missing role"},
		{name: "bare wildcard", mutate: func(p *core.TrustPolicy) { p.Subject = "*" }, wantErr: "non-empty subject"},
		{name: "inner wildcard", mutate: func(p *core.TrustPolicy) { p.Subject = "repo:*:main" }, wantErr: "only allowed at the end"},
		{name: "valid branch", mutate: func(p *core.TrustPolicy) { p.Branch = "release/v1" }},
		{name: "full branch ref", mutate: func(p *core.TrustPolicy) { p.Branch = "refs/heads/main" }, wantErr: "plain branch name"},
		{name: "negative lifetime", mutate: func(p *core.TrustPolicy) { p.MaxLifetime = -1 }, wantErr: "must not be negative"},
		{name: "valid condition", mutate: func(p *core.TrustPolicy) { p.Condition = `claims["actor"] == "octocat"` }},
		{name: "non-bool condition", mutate: func(p *core.TrustPolicy) { p.Condition = `subject + "x"` }, wantErr: "compiling condition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			err := ValidatePolicy(p)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidatePolicies(t *testing.T) {
	providers := map[string]struct{}{"aws": {}}
	issuers := map[string]struct{}{"https://ci.example.com": {}}

	p := core.TrustPolicy{Provider: "aws", TargetRole: "role-a", Subject: "repo:acme/*"}

	if err := ValidatePolicies([]core.TrustPolicy{p}, providers, issuers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidatePolicies([]core.TrustPolicy{p, p}, providers, issuers); err == nil {
		t.Fatal("expected duplicate key error")
	}

	unknownProvider := p
	unknownProvider.Provider = "gcp"
	if err := ValidatePolicies([]core.TrustPolicy{unknownProvider}, providers, issuers); err == nil {
		t.Fatal("expected unknown provider error")
	}

	unknownIssuer := p
	unknownIssuer.Issuer = "https://other.example.com"
	if err := ValidatePolicies([]core.TrustPolicy{unknownIssuer}, providers, issuers); err == nil {
		t.Fatal("expected unknown issuer error")
	}
}
