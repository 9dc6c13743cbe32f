package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

var (
	authToken     string
	authTokenFile string
	authProvider  string
	authOutput    string
)

var authenticateCmd = &cobra.Command{
	Use:     "authenticate",
	Aliases: []string{"auth"},
	Short:   "Exchange an identity token for a cloud credential",
	Long: `Sends an identity token to the broker and prints the issued credential.

With --server the request goes to a running keyless server. With --config the
broker is built in this process from the given config file, including its
audit log.`,
	Example: `  # In GitHub Actions
  keyless authenticate --server https://keyless.example.com --provider aws \
    --token-file <(curl -sH "Authorization: bearer $ACTIONS_ID_TOKEN_REQUEST_TOKEN" "$ACTIONS_ID_TOKEN_REQUEST_URL" | jq -r .value)

  # Print shell exports
  eval "$(keyless authenticate --provider aws --token "$TOKEN" -o env)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readIdentityToken()
		if err != nil {
			return err
		}

		var (
			resp        *service.AuthenticateResponse
			correlation string
		)
		if f.Remote() {
			cli, err := f.GetClient()
			if err != nil {
				return err
			}
			log.Debug().Msgf("Requesting credential for provider '%s' from %s...", authProvider, f.RemoteAddr)
			resp, correlation, err = cli.Authenticate(cmd.Context(), token, authProvider)
			if err != nil {
				return logError(err, correlation, "authentication failed")
			}
		} else {
			rt, err := f.BuildLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			resp, err = rt.Service.Authenticate(cmd.Context(), service.AuthenticateRequest{
				Token:    token,
				Provider: authProvider,
			})
			if err != nil {
				return logError(err, "", "authentication failed")
			}
		}

		d := resp.Decision
		if !d.Allowed() {
			log.Error().
				Str("decision_id", d.ID).
				Str("reason", string(d.Reason)).
				Msgf("%s request denied: %s", redCross, d.Detail)
			log.Info().Msgf("Run '%s' for details.", cyan("keyless audit inspect "+d.ID))
			return BeQuietError{}
		}

		log.Info().
			Str("decision_id", d.ID).
			Str("policy", d.PolicyID).
			Msgf("%s issued credential for %s (expires %s)",
				greenCheck, bold(d.TargetRole), resp.Credential.ExpiresAt.Local().Format(time.RFC1123))
		return printCredential(resp.Credential)
	},
}

func readIdentityToken() (string, error) {
	token := authToken
	if authTokenFile != "" {
		data, err := os.ReadFile(authTokenFile)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		token = string(data)
	}
	if token == "" {
		token = os.Getenv("KEYLESS_IDENTITY_TOKEN")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("no identity token (use --token, --token-file or KEYLESS_IDENTITY_TOKEN)")
	}
	return token, nil
}

func printCredential(cred *core.Credential) error {
	switch authOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cred)
	case "env":
		for _, kv := range credentialEnv(cred) {
			fmt.Printf("export %s=%q\n", kv[0], kv[1])
		}
		return nil
	case "text", "":
		fmt.Println(bold("\n── Credential ──"))
		printKV("Provider", cred.Provider)
		printKV("Role", cred.TargetRole)
		if cred.AccessKeyID != "" {
			printKV("Access Key ID", cred.AccessKeyID)
		}
		printKV("Secret", truncate(cred.Secret, 12))
		printKV("Expires", cred.ExpiresAt.Local().Format(time.RFC1123))
		fmt.Println()
		return nil
	default:
		return fmt.Errorf("unknown output format '%s'", authOutput)
	}
}

// credentialEnv maps a credential to the variables the provider's SDKs read.
func credentialEnv(cred *core.Credential) [][2]string {
	switch {
	case cred.AccessKeyID != "":
		out := [][2]string{
			{"AWS_ACCESS_KEY_ID", cred.AccessKeyID},
			{"AWS_SECRET_ACCESS_KEY", cred.Secret},
		}
		if cred.SessionToken != "" {
			out = append(out, [2]string{"AWS_SESSION_TOKEN", cred.SessionToken})
		}
		return out
	default:
		name := "KEYLESS_" + strings.ToUpper(strings.ReplaceAll(cred.Provider, "-", "_")) + "_ACCESS_TOKEN"
		return [][2]string{{name, cred.Secret}}
	}
}

func init() {
	rootCmd.AddCommand(authenticateCmd)

	f.bindConfigFlag(authenticateCmd.Flags())
	authenticateCmd.Flags().StringVarP(&authToken, "token", "t", "", "Identity token")
	authenticateCmd.Flags().StringVar(&authTokenFile, "token-file", "", "Read the identity token from a file")
	authenticateCmd.Flags().StringVarP(&authProvider, "provider", "p", "", "Provider to request a credential from")
	authenticateCmd.Flags().StringVarP(&authOutput, "output", "o", "text", "Output format (text, json, env)")

	_ = authenticateCmd.MarkFlagRequired("provider")
}
