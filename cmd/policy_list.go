package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/policy"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

var policyListProvider string

var policyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List trust policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, correlation, err := listPolicies(cmd.Context(), policyListProvider)
		if err != nil {
			return logError(err, correlation, "failed to list policies")
		}
		slices.SortFunc(policies, func(a, b core.TrustPolicy) int {
			return strings.Compare(a.ID(), b.ID())
		})

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Provider", "Role", "Subject", "Constraints", "Max Lifetime"})
		for _, p := range policies {
			lifetime := faint("default")
			if p.MaxLifetime > 0 {
				lifetime = p.MaxLifetime.String()
			}
			t.AppendRow(table.Row{
				p.Provider,
				bold(truncate(p.TargetRole, 60)),
				p.Subject,
				constraints(p),
				lifetime,
			})
		}
		applyTableFormat(t)
		t.Render()

		if conflicts := policy.Lint(policies); len(conflicts) > 0 {
			log.Warn().Msgf("%d pairs of policies overlap, run '%s' for details",
				len(conflicts), cyan("keyless policy lint"))
		}
		return nil
	},
}

func listPolicies(ctx context.Context, provider string) ([]core.TrustPolicy, string, error) {
	if f.Remote() {
		cli, err := f.GetClient()
		if err != nil {
			return nil, "", err
		}
		return cli.ListPolicies(ctx, provider)
	}
	var policies []core.TrustPolicy
	err := withLocalService(ctx, func(svc *service.FederationService) (err error) {
		policies, err = svc.ListPolicies(ctx, provider)
		return err
	})
	return policies, "", err
}

func constraints(p core.TrustPolicy) string {
	var parts []string
	if p.Branch != "" {
		parts = append(parts, "branch="+p.Branch)
	}
	if p.Audience != "" {
		parts = append(parts, "aud="+p.Audience)
	}
	if p.Issuer != "" {
		parts = append(parts, "iss="+p.Issuer)
	}
	if p.Condition != "" {
		parts = append(parts, "if "+truncate(p.Condition, 30))
	}
	if len(parts) == 0 {
		return faint("-")
	}
	return strings.Join(parts, ", ")
}

var policyGetCmd = &cobra.Command{
	Use:   "get PROVIDER ROLE",
	Short: "Show a single trust policy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, role := args[0], args[1]

		var (
			p           *core.TrustPolicy
			correlation string
			err         error
		)
		if f.Remote() {
			cli, cerr := f.GetClient()
			if cerr != nil {
				return cerr
			}
			p, correlation, err = cli.GetPolicy(cmd.Context(), provider, role)
		} else {
			err = withLocalService(cmd.Context(), func(svc *service.FederationService) (err error) {
				p, err = svc.GetPolicy(cmd.Context(), provider, role)
				return err
			})
		}
		if err != nil {
			return logError(err, correlation, "failed to get policy")
		}
		printPolicy(*p)
		return nil
	},
}

func printPolicy(p core.TrustPolicy) {
	fmt.Println(bold("\n── Trust Policy ──"))
	printKV("ID", p.ID())
	printKV("Name", orNone(p.Name))
	printKV("Provider", p.Provider)
	printKV("Role", p.TargetRole)
	printKV("Subject", p.Subject)
	printKV("Branch", orNone(p.Branch))
	printKV("Audience", orNone(p.Audience))
	printKV("Issuer", orNone(p.Issuer))
	printKV("Condition", orNone(p.Condition))
	if p.MaxLifetime > 0 {
		printKV("Max Lifetime", p.MaxLifetime)
	} else {
		printKV("Max Lifetime", faint("(broker default)"))
	}
	printKV("Specificity", policy.Specificity(p))
	fmt.Println()
}

func init() {
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyGetCmd)

	policyListCmd.Flags().StringVarP(&policyListProvider, "provider", "p", "", "Only policies of this provider")
}
