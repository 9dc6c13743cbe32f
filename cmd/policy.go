package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

var policyCmd = &cobra.Command{
	Use:     "policy",
	Aliases: []string{"policies"},
	Short:   "Manage trust policies",
	Long: `Lists, shows and writes the trust policies that map identity token subjects to
cloud roles. Talks to the server given with --server (admin session required) or,
with --config, to the policy store configured in a local config file.`,
}

func init() {
	rootCmd.AddCommand(policyCmd)

	f.bindConfigFlag(policyCmd.PersistentFlags())
}

// withLocalService builds the broker from the config file, runs fn against its
// service and closes it again.
func withLocalService(ctx context.Context, fn func(*service.FederationService) error) error {
	rt, err := f.BuildLocal(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close()
	}()
	return fn(rt.Service)
}
