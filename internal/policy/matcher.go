package policy

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/validation"
)

// Matcher selects the single trust policy authorizing a set of verified claims.
type Matcher struct {
	store    core.PolicyStore
	branches BranchExtractors

	// compiled conditions, keyed by source
	programs sync.Map
}

func NewMatcher(store core.PolicyStore, branches BranchExtractors) *Matcher {
	if branches == nil {
		branches = BranchExtractors{}
	}
	return &Matcher{
		store:    store,
		branches: branches,
	}
}

// Specificity ranks a subject pattern by the length of its literal prefix.
// An exact pattern and a wildcard with the same literal rank equal, so a
// subject matching both is ambiguous.
func Specificity(p core.TrustPolicy) int {
	return len(p.LiteralSubject())
}

// SubjectMatches reports whether the subject satisfies the policy's pattern.
func SubjectMatches(p core.TrustPolicy, subject string) bool {
	if p.IsWildcard() {
		return strings.HasPrefix(subject, p.LiteralSubject())
	}
	return subject == p.Subject
}

// Match returns the most specific policy of the provider matching the claims,
// nil if none matches, or an error wrapping core.ErrAmbiguousPolicy on a tie.
func (m *Matcher) Match(ctx context.Context, provider string, claims core.Claims) (*core.TrustPolicy, error) {
	trace, matched, err := m.evaluate(ctx, provider, claims)
	if err != nil {
		return nil, err
	}
	if trace.Reason == core.ReasonAmbiguousPolicy {
		return nil, ambiguityError(matched)
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return &matched[0], nil
}

// Explain evaluates every candidate policy and records why it did or did not match.
func (m *Matcher) Explain(ctx context.Context, provider string, claims core.Claims) (*core.MatchTrace, error) {
	trace, _, err := m.evaluate(ctx, provider, claims)
	return trace, err
}

// evaluate returns the trace plus the winning policies: one on success, several on a tie.
func (m *Matcher) evaluate(
	ctx context.Context,
	provider string,
	claims core.Claims,
) (*core.MatchTrace, []core.TrustPolicy, error) {
	policies, err := m.store.List(ctx, provider)
	if err != nil {
		return nil, nil, fmt.Errorf("listing policies for provider '%s': %w", provider, err)
	}

	branch, err := m.branches.For(claims.Issuer()).Branch(claims)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("issuer", claims.Issuer()).Msg("branch extraction failed")
		branch = ""
	}

	trace := &core.MatchTrace{
		Provider:  provider,
		Principal: claims.Principal(),
		Branch:    branch,
		Results:   make([]core.PolicyResult, 0, len(policies)),
	}

	var (
		best     []core.TrustPolicy
		bestRank = -1
	)
	for _, p := range policies {
		reason := m.check(ctx, p, claims, branch)
		rank := Specificity(p)
		trace.Results = append(trace.Results, core.PolicyResult{
			PolicyID:    p.ID(),
			Name:        p.Name,
			Subject:     p.Subject,
			Matched:     reason == "",
			Specificity: rank,
			Reason:      reason,
		})
		if reason != "" {
			continue
		}
		switch {
		case rank > bestRank:
			best = []core.TrustPolicy{p}
			bestRank = rank
		case rank == bestRank:
			best = append(best, p)
		}
	}

	slices.SortFunc(trace.Results, func(a, b core.PolicyResult) int {
		return strings.Compare(a.PolicyID, b.PolicyID)
	})

	switch len(best) {
	case 0:
		trace.Reason = core.ReasonNoMatchingPolicy
	case 1:
		trace.Selected = best[0].ID()
	default:
		trace.Reason = core.ReasonAmbiguousPolicy
	}
	return trace, best, nil
}

// check returns "" if the policy matches, otherwise the first failing constraint.
func (m *Matcher) check(ctx context.Context, p core.TrustPolicy, claims core.Claims, branch string) string {
	if p.Issuer != "" && p.Issuer != claims.Issuer() {
		return fmt.Sprintf("issuer %q != %q", claims.Issuer(), p.Issuer)
	}
	if !SubjectMatches(p, claims.Subject()) {
		return fmt.Sprintf("subject %q does not match %q", claims.Subject(), p.Subject)
	}
	if p.Audience != "" && !claims.HasAudience(p.Audience) {
		return fmt.Sprintf("audience %q not in %v", p.Audience, claims.Audience())
	}
	if p.Branch != "" && p.Branch != branch {
		return fmt.Sprintf("branch %q != %q", branch, p.Branch)
	}
	if p.Condition != "" {
		ok, err := m.runCondition(p.Condition, claims, branch)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("policy", p.ID()).Msg("error evaluating policy condition")
			return fmt.Sprintf("condition error: %v", err)
		}
		if !ok {
			return "condition evaluated to false"
		}
	}
	return ""
}

func (m *Matcher) runCondition(condition string, claims core.Claims, branch string) (bool, error) {
	var program *vm.Program
	if cached, ok := m.programs.Load(condition); ok {
		program = cached.(*vm.Program)
	} else {
		compiled, err := validation.CompileCondition(condition)
		if err != nil {
			return false, err
		}
		m.programs.Store(condition, compiled)
		program = compiled
	}

	out, err := expr.Run(program, validation.ConditionEnv(claims, branch))
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

func ambiguityError(tied []core.TrustPolicy) error {
	ids := make([]string, 0, len(tied))
	for _, p := range tied {
		ids = append(ids, p.ID())
	}
	slices.Sort(ids)
	return fmt.Errorf("%w: %s", core.ErrAmbiguousPolicy, strings.Join(ids, ", "))
}
