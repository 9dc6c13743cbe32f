package policy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// Conflict is a pair of policies that some token would match with equal specificity.
type Conflict struct {
	A, B core.TrustPolicy
}

func (c Conflict) String() string {
	return fmt.Sprintf("policies '%s' and '%s' overlap on subject %q", c.A.ID(), c.B.ID(), c.A.Subject)
}

// Lint finds pairs of policies that would be reported as ambiguous at request time.
// Two policies tie only when their literal prefixes are identical, which includes
// an exact pattern and the same pattern with a wildcard. They conflict when their
// issuer and branch constraints can be satisfied at once. Audiences never separate
// two policies since a token may carry several audiences, and conditions are assumed
// to overlap.
func Lint(policies []core.TrustPolicy) []Conflict {
	sorted := slices.Clone(policies)
	slices.SortFunc(sorted, func(a, b core.TrustPolicy) int {
		return strings.Compare(a.ID(), b.ID())
	})

	var conflicts []Conflict
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if a.Provider != b.Provider || a.LiteralSubject() != b.LiteralSubject() {
				continue
			}
			if !compatible(a.Issuer, b.Issuer) || !compatible(a.Branch, b.Branch) {
				continue
			}
			conflicts = append(conflicts, Conflict{A: a, B: b})
		}
	}
	return conflicts
}

func compatible(a, b string) bool {
	return a == "" || b == "" || a == b
}
