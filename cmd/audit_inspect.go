package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

var auditInspectCmd = &cobra.Command{
	Use:     "inspect DECISION-ID",
	Short:   "Show full details of a recorded decision",
	Example: `  keyless audit inspect 2b4e5c1e-8f0a-4d6b-9c43-2f6d1f0a7e11`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if id == "" {
			return fmt.Errorf("decision ID cannot be empty")
		}

		log.Debug().Msgf("Retrieving decision '%s'...", id)
		decisions, correlation, err := queryDecisions(cmd.Context(), core.AuditFilter{ID: id, Limit: 1})
		if err != nil {
			return logError(err, correlation, "failed to retrieve decision")
		}
		if len(decisions) == 0 {
			log.Warn().Str("decision_id", id).Msg("no such decision")
			return BeQuietError{}
		}
		printDecision(decisions[0])
		return nil
	},
}

func printDecision(d core.FederationDecision) {
	status := green("allowed")
	if !d.Allowed() {
		status = red("denied")
	}

	fmt.Println(bold("\n── Decision ──"))
	printKV("ID", d.ID)
	printKV("Correlation ID", orNone(d.CorrelationID))
	printKV("Time", d.Time.Local().Format(time.RFC1123))
	printKV("Decision", status)
	printKV("State", d.State)
	printKV("Took", d.Duration.Round(time.Millisecond))
	if !d.Allowed() {
		printKV("Reason", red(string(d.Reason)))
		printKV("Detail", orNone(d.Detail))
	}

	fmt.Println(bold("\n── Identity ──"))
	printKV("Issuer", orNone(d.Principal.Issuer))
	printKV("Subject", orNone(d.Principal.Subject))
	printKV("Source IP", orNone(d.SourceIP))

	fmt.Println(bold("\n── Request & Policy ──"))
	printKV("Provider", d.Provider)
	printKV("Target Role", orNone(d.TargetRole))
	printKV("Policy", orNone(d.PolicyID))
	printKV("Provider Attempts", d.Attempts)

	fmt.Println(bold("\n── Credential ──"))
	if d.Credential != nil {
		printKV("Role", d.Credential.TargetRole)
		printKV("Expires", d.Credential.ExpiresAt.Local().Format(time.RFC1123))
		printKV("Fingerprint", d.Credential.Fingerprint)
	} else {
		fmt.Printf("  %s\n", faint("(none issued)"))
	}
	fmt.Println()
}

func init() {
	auditCmd.AddCommand(auditInspectCmd)
}
