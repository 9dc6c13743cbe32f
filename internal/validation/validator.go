package validation

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// ConditionEnv is the environment policy conditions are compiled and run against.
func ConditionEnv(claims core.Claims, branch string) map[string]any {
	return map[string]any{
		"claims":  map[string]any(claims),
		"subject": claims.Subject(),
		"issuer":  claims.Issuer(),
		"branch":  branch,
	}
}

// CompileCondition compiles a policy condition into a boolean program.
func CompileCondition(condition string) (*vm.Program, error) {
	return expr.Compile(condition,
		expr.Env(ConditionEnv(core.Claims{}, "")),
		expr.AsBool(),
	)
}

// ValidatePolicy checks the structure of a single policy.
func ValidatePolicy(p core.TrustPolicy) error {
	if p.Provider == "" {
		return fmt.Errorf("policy '%s' missing provider", p.DisplayName())
	}
	if p.TargetRole == "" {
		return fmt.Errorf("policy '%s' missing role", p.DisplayName())
	}
	if p.Subject == "" || p.Subject == core.WildcardSuffix {
		return fmt.Errorf("policy '%s' needs a non-empty subject pattern", p.DisplayName())
	}
	if strings.Contains(p.LiteralSubject(), core.WildcardSuffix) {
		return fmt.Errorf("policy '%s': '*' is only allowed at the end of the subject pattern", p.DisplayName())
	}
	if strings.HasPrefix(p.Branch, "refs/") {
		return fmt.Errorf("policy '%s': branch is the plain branch name, got '%s'", p.DisplayName(), p.Branch)
	}
	if p.MaxLifetime < 0 {
		return fmt.Errorf("policy '%s': max_lifetime must not be negative", p.DisplayName())
	}
	if p.Condition != "" {
		if _, err := CompileCondition(p.Condition); err != nil {
			return fmt.Errorf("compiling condition for policy '%s': %w", p.DisplayName(), err)
		}
	}
	return nil
}

// ValidatePolicies checks every policy and its references to providers and issuers.
// Duplicate (provider, role) keys are rejected since the later one would silently replace the former.
func ValidatePolicies(policies []core.TrustPolicy, knownProviders, knownIssuers map[string]struct{}) error {
	seen := make(map[core.PolicyKey]struct{})
	for i, p := range policies {
		if err := ValidatePolicy(p); err != nil {
			return fmt.Errorf("policy #%d: %w", i, err)
		}
		if _, dup := seen[p.Key()]; dup {
			return fmt.Errorf("policy '%s' is defined twice", p.ID())
		}
		seen[p.Key()] = struct{}{}

		if _, known := knownProviders[p.Provider]; !known {
			return fmt.Errorf("policy '%s' references unknown provider '%s'", p.DisplayName(), p.Provider)
		}
		if p.Issuer != "" {
			if _, known := knownIssuers[p.Issuer]; !known {
				return fmt.Errorf("policy '%s' references unknown issuer '%s'", p.DisplayName(), p.Issuer)
			}
		}
	}
	return nil
}
