package policy

import (
	"testing"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

func TestLint(t *testing.T) {
	policies := []core.TrustPolicy{
		{Provider: "aws", TargetRole: "a", Subject: "repo:acme/core:*"},
		{Provider: "aws", TargetRole: "b", Subject: "repo:acme/core:*", Audience: "other"},
		{Provider: "aws", TargetRole: "c", Subject: "repo:acme/core:*", Branch: "main"},
		{Provider: "aws", TargetRole: "d", Subject: "repo:acme/core:*", Branch: "dev", Issuer: "https://x"},
		{Provider: "aws", TargetRole: "e", Subject: "repo:acme/core:*", Branch: "dev", Issuer: "https://y"},
		{Provider: "aws", TargetRole: "f", Subject: "repo:acme/core:ref:*"},
		{Provider: "gcp", TargetRole: "g", Subject: "repo:acme/core:*"},
		{Provider: "gcp", TargetRole: "h", Subject: "repo:acme/core:"},
		{Provider: "gcp", TargetRole: "i", Subject: "repo:acme/core:x"},
	}

	conflicts := Lint(policies)

	got := make(map[string]bool)
	for _, c := range conflicts {
		got[c.A.TargetRole+c.B.TargetRole] = true
	}

	want := []string{"ab", "ac", "ad", "ae", "bc", "bd", "be", "gh"}
	for _, w := range want {
		if !got[w] {
			t.Errorf("expected conflict %s", w)
		}
	}
	if len(conflicts) != len(want) {
		t.Errorf("expected %d conflicts, got %d: %v", len(want), len(conflicts), conflicts)
	}
}
