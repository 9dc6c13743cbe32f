package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

var (
	putFile   string
	putPolicy core.TrustPolicy
)

// policyFile is the format read by 'policy put -i'.
type policyFile struct {
	Policies []core.TrustPolicy `yaml:"policies"`
}

var policyPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Create or replace trust policies",
	Long: `Writes a policy given by flags, or every policy of a YAML file with a top-level
'policies' list. A policy replaces the existing one with the same provider and role.`,
	Example: `  keyless policy put --provider aws --role arn:aws:iam::111122223333:role/Deploy \
    --subject 'repo:acme/core:ref:*' --branch main --max-lifetime 15m

  keyless policy put -i policies.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		policies := []core.TrustPolicy{putPolicy}
		if putFile != "" {
			data, err := os.ReadFile(putFile)
			if err != nil {
				return fmt.Errorf("reading policy file: %w", err)
			}
			var pf policyFile
			if err := yaml.Unmarshal(data, &pf); err != nil {
				return fmt.Errorf("parsing policy file: %w", err)
			}
			if len(pf.Policies) == 0 {
				return fmt.Errorf("policy file contains no policies")
			}
			policies = pf.Policies
		}

		put := remotePut
		if !f.Remote() {
			rt, err := f.BuildLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			put = func(ctx context.Context, p core.TrustPolicy) (*service.PutPolicyResponse, string, error) {
				resp, err := rt.Service.PutPolicy(ctx, p)
				return resp, "", err
			}
		}

		failed := false
		for _, p := range policies {
			resp, correlation, err := put(cmd.Context(), p)
			if err != nil {
				_ = logError(err, correlation, fmt.Sprintf("failed to store policy '%s'", p.DisplayName()))
				failed = true
				continue
			}
			logSuccess("stored policy %s", bold(resp.Policy.ID()))
			for _, w := range resp.Warnings {
				log.Warn().Msg(w)
			}
		}
		if failed {
			return BeQuietError{}
		}
		return nil
	},
}

func remotePut(ctx context.Context, p core.TrustPolicy) (*service.PutPolicyResponse, string, error) {
	cli, err := f.GetClient()
	if err != nil {
		return nil, "", err
	}
	return cli.PutPolicy(ctx, p)
}

func init() {
	policyCmd.AddCommand(policyPutCmd)

	fl := policyPutCmd.Flags()
	fl.StringVarP(&putFile, "input", "i", "", "YAML file with a 'policies' list")
	fl.StringVar(&putPolicy.Name, "name", "", "Human-readable policy name")
	fl.StringVarP(&putPolicy.Provider, "provider", "p", "", "Provider adapter")
	fl.StringVar(&putPolicy.TargetRole, "role", "", "Target role of the provider")
	fl.StringVar(&putPolicy.Subject, "subject", "", "Exact subject, or a prefix ending in '*'")
	fl.StringVar(&putPolicy.Branch, "branch", "", "Required branch")
	fl.StringVar(&putPolicy.Audience, "audience", "", "Required token audience")
	fl.StringVar(&putPolicy.Issuer, "issuer", "", "Required token issuer URL")
	fl.StringVar(&putPolicy.Condition, "condition", "", "Boolean expression over the claims")
	fl.DurationVar(&putPolicy.MaxLifetime, "max-lifetime", 0, "Maximum credential lifetime")

	policyPutCmd.MarkFlagsMutuallyExclusive("input", "provider")
	policyPutCmd.MarkFlagsMutuallyExclusive("input", "role")
	policyPutCmd.MarkFlagsMutuallyExclusive("input", "subject")
}
