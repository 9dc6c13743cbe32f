package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

var (
	auditLimit    int
	auditProvider string
	auditKind     string
	auditReason   string
	auditSubject  string
	auditSince    time.Duration
)

var auditLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List recorded decisions",
	Example: `  # Denials of the last hour
  keyless audit log --kind DENY --since 1h

  # Everything a repository did against AWS
  keyless audit log --provider aws --subject repo:acme/core:ref:refs/heads/main`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := core.AuditFilter{
			Provider: auditProvider,
			Kind:     core.DecisionKind(auditKind),
			Reason:   core.Reason(auditReason),
			Subject:  auditSubject,
			Limit:    auditLimit,
		}
		if auditSince > 0 {
			filter.Since = time.Now().Add(-auditSince)
		}

		log.Debug().Msg("Fetching audit log...")
		decisions, correlation, err := queryDecisions(cmd.Context(), filter)
		if err != nil {
			return logError(err, correlation, "failed to query audit log")
		}
		log.Info().Msgf("Retrieved %d decisions", len(decisions))

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"ID", "Time", "Decision", "Provider", "Subject", "Role / Reason", "Took",
		})

		for _, d := range decisions {
			kind := green(string(d.Kind))
			detail := d.TargetRole
			if !d.Allowed() {
				kind = red(string(d.Kind))
				detail = yellow(string(d.Reason))
			}
			t.AppendRow(table.Row{
				faint(d.ID),
				d.Time.Local().Format(time.DateTime),
				kind,
				d.Provider,
				truncate(d.Principal.Subject, 45),
				truncate(detail, 50),
				d.Duration.Round(time.Millisecond),
			})
		}

		applyTableFormat(t)
		t.Render()
		if len(decisions) == auditLimit {
			fmt.Println(faint(fmt.Sprintf("showing the first %d decisions, use --limit to see more", auditLimit)))
		}
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditLogCmd)

	auditLogCmd.Flags().IntVarP(&auditLimit, "limit", "n", 25, "Maximum number of decisions to retrieve")
	auditLogCmd.Flags().StringVar(&auditProvider, "provider", "", "Only decisions for this provider")
	auditLogCmd.Flags().StringVar(&auditKind, "kind", "", "Only ALLOW or DENY decisions")
	auditLogCmd.Flags().StringVar(&auditReason, "reason", "", "Only denials with this reason")
	auditLogCmd.Flags().StringVar(&auditSubject, "subject", "", "Only decisions for this token subject")
	auditLogCmd.Flags().DurationVar(&auditSince, "since", 0, "Only decisions younger than this")
}
