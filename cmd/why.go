package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

var (
	whyToken    string
	whyReplay   string
	whyProvider string
	whyPolicy   string
)

var whyCmd = &cobra.Command{
	Use:   "why",
	Short: "Explain which trust policy a token matches, and why others do not",
	Long: `Evaluates every policy of a provider against a token and prints the outcome per
policy. Nothing is issued and nothing is recorded.

With --replay the principal recorded on a past decision is evaluated instead of a
token. Only issuer and subject are recorded, so conditions on other claims will not
match in a replay.`,
	Example: `  # Why is my token denied?
  keyless why --token "$TOKEN" --provider aws

  # What would the current policies decide for a past request?
  keyless why --replay 2b4e5c1e-8f0a-4d6b-9c43-2f6d1f0a7e11`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.ExplainRequest{
			Token:    whyToken,
			ReplayID: whyReplay,
			Provider: whyProvider,
		}

		var (
			trace       *core.MatchTrace
			correlation string
			err         error
		)
		if f.Remote() {
			cli, cerr := f.GetClient()
			if cerr != nil {
				return cerr
			}
			trace, correlation, err = cli.ExplainTrace(cmd.Context(), req)
		} else {
			err = withLocalService(cmd.Context(), func(svc *service.FederationService) (err error) {
				trace, err = svc.ExplainTrace(cmd.Context(), req)
				return err
			})
		}
		if err != nil {
			return logError(err, correlation, "failed to explain")
		}

		printTrace(trace)
		return nil
	},
}

func printTrace(trace *core.MatchTrace) {
	fmt.Printf("\n%s for %s (issuer: %s)\n",
		bold("Policy trace"),
		bold(trace.Principal.Subject),
		trace.Principal.Issuer)
	printKV("Provider", trace.Provider)
	printKV("Branch", orNone(trace.Branch))
	fmt.Println(faint("---------------------------------------------------"))

	for _, res := range trace.Results {
		if whyPolicy != "" && res.PolicyID != whyPolicy && res.Name != whyPolicy {
			continue
		}

		icon := redCross
		if res.Matched {
			icon = greenCheck
		}
		label := res.PolicyID
		if res.Name != "" {
			label = res.Name + faint(" ("+res.PolicyID+")")
		}
		if res.PolicyID == trace.Selected {
			label += " " + green("<- selected")
		}

		fmt.Printf("%s %s\n", icon, bold(label))
		fmt.Printf("    %s %s  %s %d\n", faint("subject:"), res.Subject, faint("specificity:"), res.Specificity)
		if res.Reason != "" {
			reason := yellow(res.Reason)
			if res.Matched {
				reason = faint(res.Reason)
			}
			fmt.Printf("      ↳ %s\n", reason)
		}
	}
	if len(trace.Results) == 0 {
		fmt.Println(faint("  (no policies for this provider)"))
	}

	fmt.Println(faint("---------------------------------------------------"))
	if trace.Selected != "" && trace.Reason == core.ReasonNone {
		fmt.Printf("Decision: %s via policy '%s'\n", bold(green("allow")), bold(trace.Selected))
	} else {
		fmt.Printf("Decision: %s (%s)\n", bold(red("deny")), trace.Reason)
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(whyCmd)

	f.bindConfigFlag(whyCmd.Flags())
	whyCmd.Flags().StringVarP(&whyToken, "token", "t", "", "Identity token to explain")
	whyCmd.Flags().StringVar(&whyReplay, "replay", "", "Replay the principal of a recorded decision")
	whyCmd.Flags().StringVarP(&whyProvider, "provider", "p", "", "Provider whose policies are evaluated")
	whyCmd.Flags().StringVar(&whyPolicy, "policy", "", "Only show this policy (ID or name)")

	whyCmd.MarkFlagsOneRequired("token", "replay")
	whyCmd.MarkFlagsMutuallyExclusive("token", "replay")
}
