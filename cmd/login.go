package cmd

import (
	"errors"
	"fmt"
	"os/user"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/middleware"
	"github.com/MikeDominic92/keyless-kingdom/internal/cliconfig"
)

var (
	loginSubject string
	loginTTL     time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Create an admin session for a keyless server",
	Long: `Signs an admin session token with the server's admin key (api.admin_key) and saves
it for the server, so later admin commands (audit, policy, why, tasks) are
authenticated. The key is read from --admin-key or KEYLESS_ADMIN_KEY.`,
	Example: `  KEYLESS_ADMIN_KEY=... keyless login --server https://keyless.example.com --ttl 8h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := f.RemoteAddr
		if server == "" {
			return fmt.Errorf("server address not configured, provide via --server or env")
		}
		key := viper.GetString(AdminKeyKey)
		if key == "" {
			return fmt.Errorf("admin key not provided (use --admin-key or set KEYLESS_ADMIN_KEY)")
		}

		token, expiresAt, err := middleware.NewAdminToken([]byte(key), loginSubject, loginTTL)
		if err != nil {
			return fmt.Errorf("signing session token: %w", err)
		}

		cfg, err := cliconfig.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		for _, host := range cfg.PruneExpired(time.Now()) {
			log.Debug().Msgf("dropped expired session for %s", host)
		}
		if err := cfg.SetCredential(server, &cliconfig.Credential{
			Token:     token,
			Subject:   loginSubject,
			ExpiresAt: expiresAt,
		}); err != nil {
			return err
		}
		if err := cliconfig.Save(cfg); err != nil {
			return logError(err, "", "could not save session")
		}

		// a wrong key only shows up on the first request, so check right away
		cli, err := f.GetClient()
		if err != nil {
			return err
		}
		if _, correlation, err := cli.KeySets(cmd.Context()); err != nil {
			return logError(err, correlation, "session saved, but the server rejected it")
		}

		logSuccess("logged in to %s as %s until %s", bold(server), loginSubject, expiresAt.Local().Format(time.RFC1123))
		log.Debug().Msg("session stored in the CLI config")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the admin session for a keyless server",
	RunE: func(cmd *cobra.Command, args []string) error {
		server := f.RemoteAddr
		if server == "" {
			return fmt.Errorf("server address not configured, provide via --server or env")
		}
		cfg, err := cliconfig.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.RemoveCredential(server); err != nil {
			if errors.Is(err, cliconfig.ErrCredentialNotFound) {
				log.Info().Msgf("No session stored for %s.", server)
				return nil
			}
			return err
		}
		if err := cliconfig.Save(cfg); err != nil {
			return logError(err, "", "could not save config")
		}
		logSuccess("logged out of %s", bold(server))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().String("admin-key", "", "Admin key of the server")
	_ = viper.BindPFlag(AdminKeyKey, loginCmd.Flags().Lookup("admin-key"))
	loginCmd.Flags().StringVar(&loginSubject, "subject", defaultLoginSubject(), "Name recorded for this session")
	loginCmd.Flags().DurationVar(&loginTTL, "ttl", 8*time.Hour, "Session lifetime")
}

func defaultLoginSubject() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
