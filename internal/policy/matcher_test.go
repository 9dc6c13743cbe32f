package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const ciIssuer = "https://ci.example.com"

func newTestMatcher(t *testing.T, policies ...core.TrustPolicy) *Matcher {
	t.Helper()
	s, err := NewMemoryStore(policies...)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return NewMatcher(s, BranchExtractors{ciIssuer: SubjectBranch})
}

func claimsFor(sub string) core.Claims {
	return core.Claims{
		"iss":   ciIssuer,
		"sub":   sub,
		"aud":   []any{"keyless-kingdom", "sts.amazonaws.com"},
		"actor": "octocat",
	}
}

func TestMatcher_Match(t *testing.T) {
	deploy := core.TrustPolicy{
		Name:       "core-deploy",
		Provider:   "aws",
		TargetRole: "arn:aws:iam::111:role/Deploy",
		Subject:    "repo:acme/core:*",
	}
	mainOnly := core.TrustPolicy{
		Provider:   "aws",
		TargetRole: "arn:aws:iam::111:role/Release",
		Subject:    "repo:acme/core:ref:*",
		Branch:     "release",
	}
	exactMain := core.TrustPolicy{
		Provider:   "aws",
		TargetRole: "arn:aws:iam::111:role/Main",
		Subject:    "repo:acme/core:ref:refs/heads/main",
	}
	audienceBound := core.TrustPolicy{
		Provider:   "aws",
		TargetRole: "arn:aws:iam::111:role/Aud",
		Subject:    "repo:acme/aud:*",
		Audience:   "something-else",
	}
	withCondition := core.TrustPolicy{
		Provider:   "aws",
		TargetRole: "arn:aws:iam::111:role/Cond",
		Subject:    "repo:acme/cond:*",
		Condition:  `claims["actor"] == "octocat" && branch == "main"`,
	}
	otherIssuer := core.TrustPolicy{
		Provider:   "aws",
		TargetRole: "arn:aws:iam::111:role/Other",
		Subject:    "repo:acme/other:*",
		Issuer:     "https://other.example.com",
	}
	gcp := core.TrustPolicy{
		Provider:   "gcp",
		TargetRole: "deploy@acme.iam.gserviceaccount.com",
		Subject:    "repo:acme/*",
	}

	m := newTestMatcher(t, deploy, mainOnly, exactMain, audienceBound, withCondition, otherIssuer, gcp)

	tests := []struct {
		name     string
		provider string
		subject  string
		wantRole string // "" means no match
	}{
		{"wildcard match", "aws", "repo:acme/core:pull_request", deploy.TargetRole},
		{"longer literal wins", "aws", "repo:acme/core:ref:refs/heads/main", exactMain.TargetRole},
		{"branch constraint satisfied", "aws", "repo:acme/core:ref:refs/heads/release", mainOnly.TargetRole},
		{"branch constraint fails falls back to broader", "aws", "repo:acme/core:ref:refs/heads/dev", deploy.TargetRole},
		{"unknown repo", "aws", "repo:acme/unknown:ref:refs/heads/main", ""},
		{"audience constraint not met", "aws", "repo:acme/aud:ref:refs/heads/main", ""},
		{"condition true", "aws", "repo:acme/cond:ref:refs/heads/main", withCondition.TargetRole},
		{"condition false", "aws", "repo:acme/cond:ref:refs/heads/dev", ""},
		{"issuer constraint not met", "aws", "repo:acme/other:ref:refs/heads/main", ""},
		{"other provider", "gcp", "repo:acme/core:ref:refs/heads/main", gcp.TargetRole},
		{"provider without policies", "azure", "repo:acme/core:ref:refs/heads/main", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(context.Background(), tt.provider, claimsFor(tt.subject))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantRole == "" {
				if got != nil {
					t.Fatalf("expected no match, got %s", got.ID())
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %s, got no match", tt.wantRole)
			}
			if got.TargetRole != tt.wantRole {
				t.Errorf("expected %s, got %s", tt.wantRole, got.TargetRole)
			}
		})
	}
}

func TestMatcher_AmbiguousPolicy(t *testing.T) {
	a := core.TrustPolicy{Provider: "aws", TargetRole: "role-a", Subject: "repo:acme/core:*"}
	b := core.TrustPolicy{Provider: "aws", TargetRole: "role-b", Subject: "repo:acme/core:*"}
	narrower := core.TrustPolicy{Provider: "aws", TargetRole: "role-c", Subject: "repo:acme/core:ref:*"}

	m := newTestMatcher(t, a, b, narrower)

	_, err := m.Match(context.Background(), "aws", claimsFor("repo:acme/core:pull_request"))
	if !errors.Is(err, core.ErrAmbiguousPolicy) {
		t.Fatalf("expected ErrAmbiguousPolicy, got %v", err)
	}

	// a strictly more specific policy resolves the tie
	got, err := m.Match(context.Background(), "aws", claimsFor("repo:acme/core:ref:refs/heads/main"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.TargetRole != "role-c" {
		t.Fatalf("expected role-c, got %+v", got)
	}

	// an exact pattern does not outrank a wildcard with the same literal
	exact := core.TrustPolicy{Provider: "aws", TargetRole: "role-exact", Subject: "repo:acme/web"}
	wild := core.TrustPolicy{Provider: "aws", TargetRole: "role-wild", Subject: "repo:acme/web*"}
	m = newTestMatcher(t, exact, wild)

	got, err = m.Match(context.Background(), "aws", claimsFor("repo:acme/web"))
	if !errors.Is(err, core.ErrAmbiguousPolicy) {
		t.Fatalf("expected ErrAmbiguousPolicy, got %v (selected %+v)", err, got)
	}

	// only the wildcard matches a longer subject
	got, err = m.Match(context.Background(), "aws", claimsFor("repo:acme/web:ref:refs/heads/main"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.TargetRole != "role-wild" {
		t.Fatalf("expected role-wild, got %+v", got)
	}
}

func TestMatcher_Explain(t *testing.T) {
	deploy := core.TrustPolicy{Provider: "aws", TargetRole: "role-a", Subject: "repo:acme/core:*"}
	other := core.TrustPolicy{Provider: "aws", TargetRole: "role-b", Subject: "repo:acme/web:*"}
	m := newTestMatcher(t, deploy, other)

	trace, err := m.Explain(context.Background(), "aws", claimsFor("repo:acme/core:ref:refs/heads/main"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trace.Selected != deploy.ID() {
		t.Errorf("expected selected %s, got %s", deploy.ID(), trace.Selected)
	}
	if trace.Branch != "main" {
		t.Errorf("expected branch main, got %q", trace.Branch)
	}
	if len(trace.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(trace.Results))
	}
	if !trace.Results[0].Matched || trace.Results[1].Matched {
		t.Errorf("unexpected results: %+v", trace.Results)
	}
	if trace.Results[1].Reason == "" {
		t.Error("expected a reason for the non-matching policy")
	}

	trace, err = m.Explain(context.Background(), "aws", claimsFor("repo:acme/unknown"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trace.Reason != core.ReasonNoMatchingPolicy {
		t.Errorf("expected NoMatchingPolicy, got %q", trace.Reason)
	}
}

func TestSpecificity(t *testing.T) {
	exact := core.TrustPolicy{Subject: "repo:a"}
	wild := core.TrustPolicy{Subject: "repo:a*"}
	longer := core.TrustPolicy{Subject: "repo:ab*"}

	if Specificity(exact) != Specificity(wild) {
		t.Error("exact pattern and wildcard with the same literal must rank equal")
	}
	if Specificity(longer) <= Specificity(exact) {
		t.Error("longer literal must outrank shorter one")
	}
}
