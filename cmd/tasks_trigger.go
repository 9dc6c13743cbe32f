package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/pkg/client"
)

var (
	triggerWait    bool
	triggerTimeout time.Duration
)

var tasksTriggerCmd = &cobra.Command{
	Use:   "trigger NAME",
	Short: "Start a run of a background task",
	Example: `  # refresh the signing keys of issuer 'github' right now
  keyless tasks trigger keys.refresh.github

  # sync policies and wait for the result
  keyless tasks trigger policies.sync --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		// the run count before the trigger tells our run apart from earlier ones
		var runsBefore int
		if triggerWait {
			before, err := cli.TaskStatus(cmd.Context(), name)
			if err != nil {
				return logError(err, "", "retrieving task status")
			}
			runsBefore = before.Runs
		}

		log.Debug().Msgf("Triggering task '%s'...", name)
		if err := cli.TriggerTask(cmd.Context(), name); err != nil {
			var apiErr client.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
				log.Warn().Msgf("Task '%s' is already running.", name)
				return nil
			}
			return logError(err, "", "triggering task")
		}
		logSuccess("triggered task '%s'", bold(name))

		if !triggerWait {
			log.Info().Msgf("Run '%s' to see progress.", cyan("keyless tasks logs "+name))
			return nil
		}
		return waitForTask(cmd, cli, name, runsBefore)
	},
}

// waitForTask polls the task until its run count exceeds runs and prints the result.
func waitForTask(cmd *cobra.Command, cli *client.Client, name string, runs int) error {
	ctx := cmd.Context()
	deadline := time.Now().Add(triggerTimeout)

	for {
		time.Sleep(500 * time.Millisecond)
		status, err := cli.TaskStatus(ctx, name)
		if err != nil {
			return logError(err, "", "retrieving task status")
		}
		if !status.Running && status.Runs > runs {
			if status.LastResult != "success" {
				log.Error().Msgf("%s %s: %s", redCross, name, status.LastResult)
				return BeQuietError{}
			}
			logSuccess("%s finished in %s", name, status.LastDuration.Round(time.Millisecond))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("task '%s' did not finish within %s", name, triggerTimeout)
		}
	}
}

func init() {
	tasksCmd.AddCommand(tasksTriggerCmd)

	tasksTriggerCmd.Flags().BoolVarP(&triggerWait, "wait", "w", false, "Wait for the run to finish")
	tasksTriggerCmd.Flags().DurationVar(&triggerTimeout, "timeout", 5*time.Minute, "Maximum time to wait with --wait")
}
