package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/source"
)

var policySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync policies from the configured policy repository",
	Long: `Loads all policy files from the policy_source repository and writes them to
the policy store. With --server the sync task of the server is triggered. With
--config the sync runs in this process, which is only useful for persistent
(sqlite or redis) policy stores.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if f.Remote() {
			cli, err := f.GetClient()
			if err != nil {
				return err
			}
			if err := cli.TriggerTask(cmd.Context(), source.SyncTaskName); err != nil {
				return logError(err, "", "triggering policy sync")
			}
			logSuccess("triggered '%s'", source.SyncTaskName)
			log.Info().Msgf("Run '%s' to see progress.", cyan("keyless tasks logs "+source.SyncTaskName))
			return nil
		}

		rt, err := f.BuildLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = rt.Close()
		}()

		ps := rt.Config.PolicySource
		if ps == nil || ps.GitHub == nil {
			return fmt.Errorf("no policy_source configured")
		}
		if rt.Config.PolicyStore.Type == "memory" {
			log.Warn().Msg("policy_store is 'memory', synced policies are gone when this command exits")
		}

		fetcher, err := source.NewGitHubFetcher(*ps.GitHub, nil)
		if err != nil {
			return err
		}
		res, err := source.Sync(cmd.Context(), fetcher, rt.Service, logging.FromContext(cmd.Context()))
		if err != nil {
			return logError(err, "", "policy sync failed")
		}
		logSuccess("stored %d of %d fetched policies (%d warnings)", res.Stored, res.Fetched, len(res.Warnings))
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policySyncCmd)
}
