package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/audit"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect recorded federation decisions",
	Long: `Reads the audit log of a keyless server (requires an admin session, see 'keyless login')
or, with --config, the audit log configured in a local config file.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	f.bindConfigFlag(auditCmd.PersistentFlags())
}

// queryDecisions runs filter against the server or the local audit log.
func queryDecisions(ctx context.Context, filter core.AuditFilter) ([]core.FederationDecision, string, error) {
	if f.Remote() {
		cli, err := f.GetClient()
		if err != nil {
			return nil, "", err
		}
		return cli.ListDecisions(ctx, filter)
	}

	cfg, err := f.LoadConfig()
	if err != nil {
		return nil, "", err
	}
	auditLog, err := audit.Open(ctx, cfg.Audit)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = auditLog.Close()
	}()
	if filter.Limit <= 0 {
		filter.Limit = service.DefaultDecisionLimit
	}
	decisions, err := audit.Collect(ctx, auditLog, filter)
	return decisions, "", err
}
