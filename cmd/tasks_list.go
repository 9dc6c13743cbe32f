package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var tasksListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the background tasks of the server",
	Long: `Lists key refreshes, policy syncs and other background tasks together with
the outcome of their last run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Retrieving tasks...")
		tasks, err := cli.ListTasks(cmd.Context())
		if err != nil {
			return logError(err, "", "listing tasks")
		}
		if len(tasks) == 0 {
			log.Info().Msg("No tasks registered.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Task", "State", "Last Run", "Took", "Next Run", "Runs", "Result"})

		for _, task := range tasks {
			state := faint("idle")
			if task.Running {
				state = cyan("running")
			}

			lastRun, took := "never", "-"
			if !task.LastRun.IsZero() {
				lastRun = time.Since(task.LastRun).Round(time.Second).String() + " ago"
				took = task.LastDuration.Round(time.Millisecond).String()
			}

			nextRun := "on demand"
			if !task.NextRun.IsZero() {
				nextRun = "in " + time.Until(task.NextRun).Round(time.Second).String()
			}

			runs := fmt.Sprint(task.Runs)
			if task.Failures > 0 {
				runs += red(fmt.Sprintf(" (%d failed)", task.Failures))
			}

			result := faint("-")
			switch task.LastResult {
			case "":
			case "success":
				result = greenCheck + " success"
			default:
				result = redCross + " " + truncate(task.LastResult, 60)
			}

			t.AppendRow(table.Row{bold(task.Name), state, lastRun, took, nextRun, runs, result})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
}
