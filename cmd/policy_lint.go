package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/policy"
)

var policyLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Find policies that would make requests ambiguous",
	Long: `Reports pairs of policies with identical subject patterns whose issuer and branch
constraints can hold at the same time. A token matching such a pair is denied with
reason AmbiguousPolicy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			policies    []core.TrustPolicy
			correlation string
			err         error
		)
		if f.Remote() {
			policies, correlation, err = listPolicies(cmd.Context(), "")
		} else {
			// the config file alone, so it can be checked before it is deployed
			cfg, cerr := f.LoadConfig()
			if cerr != nil {
				return cerr
			}
			policies = cfg.Policies
		}
		if err != nil {
			return logError(err, correlation, "failed to list policies")
		}

		conflicts := policy.Lint(policies)
		for _, c := range conflicts {
			log.Warn().Str("a", c.A.ID()).Str("b", c.B.ID()).Msgf("%s %s", redCross, c)
		}
		if len(conflicts) > 0 {
			log.Error().Msgf("%d overlapping pairs among %d policies", len(conflicts), len(policies))
			return BeQuietError{}
		}
		logSuccess("%d policies, no overlaps", len(policies))
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyLintCmd)
}
