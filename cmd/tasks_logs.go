package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var tasksLogsCmd = &cobra.Command{
	Use:     "logs NAME",
	Short:   "Show the output of the last run of a task",
	Example: `  keyless tasks logs policies.sync`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		log.Debug().Msgf("Retrieving logs for task '%s'...", name)
		logs, err := cli.GetTaskLogs(cmd.Context(), name)
		if err != nil {
			return logError(err, "", "retrieving task logs")
		}
		if len(logs) == 0 {
			log.Info().Msgf("Task '%s' has not logged anything yet.", name)
			return nil
		}

		fmt.Println(bold(fmt.Sprintf("── %s ──", name)))
		for _, entry := range logs {
			fmt.Printf("%s %s %s\n", faint(entry.Time.Format("15:04:05")), levelTag(entry.Level), entry.Message)
		}
		return nil
	},
}

func levelTag(level string) string {
	switch level {
	case "info":
		return green("INF")
	case "warn":
		return yellow("WRN")
	case "error":
		return red("ERR")
	default:
		return faint(level)
	}
}

func init() {
	tasksCmd.AddCommand(tasksLogsCmd)
}
