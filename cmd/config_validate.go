package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/policy"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers"
)

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Parses the config file and checks issuers, providers and policies, including the
role format of each policy's provider. Overlapping policies are reported as warnings.
No network calls are made.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := f.LoadConfig()
		if err != nil {
			return logError(err, "", "configuration is invalid")
		}

		registry, err := providers.BuildRegistry(cmd.Context(), cfg.Providers)
		if err != nil {
			return logError(err, "", "configuration is invalid")
		}
		if err := providers.ValidateRoles(registry, cfg.Policies); err != nil {
			return logError(err, "", "configuration is invalid")
		}
		if _, err := policy.BuildBranchExtractors(cfg.Issuers); err != nil {
			return logError(err, "", "configuration is invalid")
		}

		for _, c := range policy.Lint(cfg.Policies) {
			log.Warn().Msg(c.String())
		}
		logSuccess("configuration is valid (%d issuers, %d providers, %d policies)",
			len(cfg.Issuers), len(cfg.Providers), len(cfg.Policies))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := f.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.API.AdminKey != "" {
			cfg.API.AdminKey = "<redacted>"
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
