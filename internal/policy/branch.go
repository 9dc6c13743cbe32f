package policy

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const headsPrefix = "refs/heads/"

// BranchExtractor determines the branch a token was issued for.
// Issuers disagree on where the branch lives, so this is configured per issuer.
type BranchExtractor interface {
	Branch(claims core.Claims) (string, error)
}

type BranchExtractorFunc func(claims core.Claims) (string, error)

func (f BranchExtractorFunc) Branch(claims core.Claims) (string, error) {
	return f(claims)
}

// NoBranch never yields a branch, so policies with a branch constraint never match.
var NoBranch = BranchExtractorFunc(func(core.Claims) (string, error) {
	return "", nil
})

// SubjectBranch reads the branch from a ':ref:' segment inside the subject, e.g.
// "repo:acme/core:ref:refs/heads/main" or "project_path:acme/core:ref_type:branch:ref:main".
var SubjectBranch = BranchExtractorFunc(func(claims core.Claims) (string, error) {
	sub := claims.Subject()
	idx := strings.LastIndex(sub, ":ref:")
	if idx < 0 {
		return "", nil
	}
	return strings.TrimPrefix(sub[idx+len(":ref:"):], headsPrefix), nil
})

// ClaimBranch reads the branch from a dedicated claim such as 'ref'.
func ClaimBranch(claim string) BranchExtractor {
	return BranchExtractorFunc(func(claims core.Claims) (string, error) {
		return strings.TrimPrefix(claims.String(claim), headsPrefix), nil
	})
}

// ExprBranch evaluates an expression over the claims that must return a string.
func ExprBranch(code string) (BranchExtractor, error) {
	program, err := expr.Compile(code,
		expr.Env(branchEnv(core.Claims{})),
		expr.AsKind(reflect.String),
	)
	if err != nil {
		return nil, fmt.Errorf("compiling branch expression: %w", err)
	}
	return exprBranch{program: program}, nil
}

type exprBranch struct {
	program *vm.Program
}

func (e exprBranch) Branch(claims core.Claims) (string, error) {
	out, err := expr.Run(e.program, branchEnv(claims))
	if err != nil {
		return "", fmt.Errorf("evaluating branch expression: %w", err)
	}
	s, _ := out.(string)
	return s, nil
}

func branchEnv(claims core.Claims) map[string]any {
	return map[string]any{
		"claims":  map[string]any(claims),
		"subject": claims.Subject(),
	}
}

// NewBranchExtractor builds the extractor configured for an issuer.
func NewBranchExtractor(cfg config.BranchConfig) (BranchExtractor, error) {
	switch cfg.Strategy {
	case "", "none":
		return NoBranch, nil
	case "subject":
		return SubjectBranch, nil
	case "claim":
		return ClaimBranch(cfg.Claim), nil
	case "expr":
		return ExprBranch(cfg.Expr)
	default:
		return nil, fmt.Errorf("unknown branch strategy '%s'", cfg.Strategy)
	}
}

// BranchExtractors maps issuer URLs to their extractor.
type BranchExtractors map[string]BranchExtractor

// BuildBranchExtractors creates the extractor of every configured issuer.
func BuildBranchExtractors(issuers []config.IssuerConfig) (BranchExtractors, error) {
	out := make(BranchExtractors, len(issuers))
	for _, iss := range issuers {
		ext, err := NewBranchExtractor(iss.Branch)
		if err != nil {
			return nil, fmt.Errorf("issuer '%s': %w", iss.Name, err)
		}
		out[iss.IssuerURL] = ext
	}
	return out, nil
}

// For returns the extractor of the issuer, falling back to NoBranch.
func (b BranchExtractors) For(issuer string) BranchExtractor {
	if ext, ok := b[issuer]; ok {
		return ext
	}
	return NoBranch
}
