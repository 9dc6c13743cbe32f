package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/api"
	"github.com/MikeDominic92/keyless-kingdom/internal/buildinfo"
)

var infoKeys bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show information about the keyless installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !f.Remote() {
			return infoLocally()
		}
		return infoRemote(cmd)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVar(&infoKeys, "keys", false, "Also list the cached signing keys (admin session required)")
}

func infoRemote(cmd *cobra.Command) error {
	cli, err := f.GetClient()
	if err != nil {
		return err
	}
	log.Debug().Msg("Fetching build info from server...")
	info, correlation, err := cli.Info(cmd.Context())
	if err != nil {
		return logError(err, correlation, "failed to get info from server")
	}
	printInfo(info)

	if !infoKeys {
		return nil
	}
	sets, correlation, err := cli.KeySets(cmd.Context())
	if err != nil {
		return logError(err, correlation, "failed to get signing keys from server")
	}
	printKeySets(sets)
	return nil
}

func infoLocally() error {
	printInfo(&api.AboutResponse{Info: buildinfo.GetBuildInfo()})
	return nil
}

func printInfo(info *api.AboutResponse) {
	fmt.Println(bold("\n── Keyless Build Information ──"))
	printKV("Service", info.Service)
	printKV("Version", info.Version)
	printKV("Commit", info.CommitHash)
	printKV("Go", info.GoVersion)

	if len(info.Providers) > 0 {
		fmt.Println(bold("\n── Providers ──"))
		for _, name := range slices.Sorted(maps.Keys(info.Providers)) {
			p := info.Providers[name]
			printKV(name, fmt.Sprintf("%s %s", p.Type, faint(p.Version)))
		}
	}
	fmt.Println()
}

func printKeySets(sets map[string]*api.KeySetInfo) {
	fmt.Println(bold("── Signing Keys ──"))
	for _, name := range slices.Sorted(maps.Keys(sets)) {
		set := sets[name]
		if set == nil {
			printKV(name, yellow("not fetched yet"))
			continue
		}
		printKV(name, fmt.Sprintf("%d keys, fetched %s, refresh after %s",
			len(set.KeyIDs),
			set.FetchedAt.Local().Format("15:04:05"),
			set.RefreshAfter.Local().Format("15:04:05")))
		for _, kid := range set.KeyIDs {
			fmt.Printf("       %s\n", faint(kid))
		}
	}
	fmt.Println()
}
