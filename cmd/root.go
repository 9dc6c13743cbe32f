package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MikeDominic92/keyless-kingdom/internal/buildinfo"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
)

// viper keys, also readable as KEYLESS_<KEY> with dots replaced by underscores
const (
	LogLevelKey   = "log.level"
	LogFormatKey  = "log.format"
	LogNoColorKey = "log.no_color"

	ServerAddrKey     = "addr"
	TokenKey          = "token"
	AdminKeyKey       = "admin_key"
	RequestTimeoutKey = "request_timeout"
)

var (
	userConfig string
	f          = NewFactory()
)

var rootCmd = &cobra.Command{
	Use:   "keyless",
	Short: "OIDC federation broker for keyless CI deployments",
	Long: `Keyless Kingdom exchanges identity tokens of CI platforms (GitHub Actions,
GitLab CI, ...) for short-lived cloud credentials. Every request is matched
against trust policies and recorded in an append-only audit log.

Commands either talk to a server (--server, with a session from 'keyless login')
or build the broker in this process from a config file (--config).`,
	Version:           fmt.Sprintf("%s (commit %s)", buildinfo.Version, buildinfo.CommitHash),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// setup loads the user config, initializes logging and resolves the server address.
func setup(cmd *cobra.Command, _ []string) error {
	configPath, configErr := readUserConfig()

	// logging first, so config errors are printed in the requested format
	logging.Init(logging.Options{
		Level:   viper.GetString(LogLevelKey),
		Format:  viper.GetString(LogFormatKey),
		NoColor: viper.GetBool(LogNoColorKey),
	})
	if configErr != nil {
		return fmt.Errorf("reading user config: %w", configErr)
	}
	if configPath != "" {
		log.Debug().Msgf("using user config file: %s", configPath)
	}

	if f.RemoteAddr == "" {
		f.RemoteAddr = viper.GetString(ServerAddrKey)
	}
	f.RequestTimeout = viper.GetDuration(RequestTimeoutKey)
	return nil
}

// Execute runs the CLI and exits with status 1 on failure.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var quiet BeQuietError
	if !errors.As(err, &quiet) {
		log.Error().Err(err).Msg("execution failed")
	}
	os.Exit(1)
}

// readUserConfig reads .keyless.yaml from --user-config or the first of the
// working directory, the home directory and the user config directory.
// A missing file is not an error.
func readUserConfig() (string, error) {
	if userConfig != "" {
		viper.SetConfigFile(userConfig)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "keyless"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".keyless")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", err
	}
	return viper.ConfigFileUsed(), nil
}

func init() {
	// until setup ran with the configured options
	logging.InitDefault()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&userConfig, "user-config", "", "User configuration file for default values (default is $HOME/.keyless.yaml)")

	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")
	flags.Bool("no-color", false, "Disable color output")
	flags.StringVar(&f.RemoteAddr, "server", "", "Address of the remote keyless server")
	flags.Duration("request-timeout", defaultRequestTimeout, "Timeout of a single request to the server")

	for key, flag := range map[string]string{
		LogLevelKey:       "log-level",
		LogFormatKey:      "log-format",
		LogNoColorKey:     "no-color",
		ServerAddrKey:     "server",
		RequestTimeoutKey: "request-timeout",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	viper.SetEnvPrefix("KEYLESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}
