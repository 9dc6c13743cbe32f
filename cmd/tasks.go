package cmd

import (
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage background tasks of the server",
	Long:  `List, trigger and read the logs of background tasks, like signing key refreshes. Requires an admin session (keyless login).`,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}
